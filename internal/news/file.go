package news

import (
	"context"
	"fmt"
	"os"
	"time"

	"alphadesk/internal/types"

	"gopkg.in/yaml.v3"
)

// FileSource 读取本地 yaml 日历，便于离线运行与回放。
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

type fileEvent struct {
	Time          time.Time `yaml:"time"`
	Currency      string    `yaml:"currency"`
	Title         string    `yaml:"title"`
	Impact        string    `yaml:"impact"`
	BeforeMinutes int       `yaml:"before_minutes"`
	AfterMinutes  int       `yaml:"after_minutes"`
}

func (s *FileSource) Fetch(_ context.Context, from, to time.Time) ([]types.NewsEvent, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file failed: %w", err)
	}
	var doc struct {
		Events []fileEvent `yaml:"events"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse calendar file failed: %w", err)
	}
	out := make([]types.NewsEvent, 0, len(doc.Events))
	for i, fe := range doc.Events {
		impact, err := types.ParseImpact(fe.Impact)
		if err != nil {
			return nil, fmt.Errorf("calendar event %d: %w", i, err)
		}
		if fe.Time.Before(from) || fe.Time.After(to) {
			continue
		}
		out = append(out, types.NewsEvent{
			Time:     fe.Time.UTC(),
			Currency: fe.Currency,
			Title:    fe.Title,
			Impact:   impact,
			Before:   time.Duration(fe.BeforeMinutes) * time.Minute,
			After:    time.Duration(fe.AfterMinutes) * time.Minute,
			Source:   "file",
		})
	}
	return out, nil
}
