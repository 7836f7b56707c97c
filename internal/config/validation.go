package config

import (
	"fmt"
	"strings"
)

// validate 对进程配置进行基础校验。
func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Telegram.validate(); err != nil {
		return err
	}
	if err := c.News.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Engine.Path) == "" {
		return fmt.Errorf("engine.path cannot be empty")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Kind {
	case "paper":
	case "http":
		if strings.TrimSpace(b.BaseURL) == "" {
			return fmt.Errorf("broker.base_url is required when broker.kind=http")
		}
	default:
		return fmt.Errorf("broker.kind must be paper or http, got %q", b.Kind)
	}
	if b.FetchRetries < 0 {
		return fmt.Errorf("broker.fetch_retries must be >= 0")
	}
	return nil
}

func (t *TelegramConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram.enabled=true")
	}
	if strings.TrimSpace(t.ChatID) == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.enabled=true")
	}
	return nil
}

func (n *NewsConfig) validate() error {
	switch n.Provider {
	case "none", "forexfactory":
	case "fmp":
		if strings.TrimSpace(n.FMPAPIKey) == "" {
			return fmt.Errorf("news.fmp_api_key is required when news.provider=fmp")
		}
	case "file":
		if strings.TrimSpace(n.File) == "" {
			return fmt.Errorf("news.file is required when news.provider=file")
		}
	default:
		return fmt.Errorf("news.provider must be one of fmp, forexfactory, file, none")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "cgo", "modernc":
		return nil
	}
	return fmt.Errorf("store.driver must be cgo or modernc, got %q", s.Driver)
}
