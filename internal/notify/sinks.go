package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

// LogSink 把事件写入日志。
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, ev types.Event) error {
	line := fmt.Sprintf("[event] %s symbol=%s ticket=%s ref=%s %s", ev.Kind, ev.Symbol, ev.Ticket, ev.CorrelationID, ev.Message)
	switch ev.Severity {
	case types.SeverityError:
		logger.Errorf("%s", line)
	case types.SeverityWarn:
		logger.Warnf("%s", line)
	default:
		logger.Infof("%s", line)
	}
	return nil
}

// TextSink 把事件渲染为 Markdown 后交给文本通道（Telegram）。
type TextSink struct {
	name     string
	notifier TextNotifier
}

func NewTextSink(name string, n TextNotifier) *TextSink {
	return &TextSink{name: name, notifier: n}
}

func (s *TextSink) Name() string { return s.name }

func (s *TextSink) Send(ctx context.Context, ev types.Event) error {
	return s.notifier.SendText(ctx, FormatEvent(ev).RenderMarkdown())
}

// DiscordSink 通过 webhook 推送。
type DiscordSink struct {
	client  *resty.Client
	webhook string
}

func NewDiscordSink(webhook string) *DiscordSink {
	return &DiscordSink{
		client:  resty.New().SetTimeout(10 * time.Second),
		webhook: webhook,
	}
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, ev types.Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": FormatEvent(ev).RenderMarkdown()}).
		Post(s.webhook)
	if err != nil {
		return err
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("discord status=%d", resp.StatusCode())
	}
	return nil
}

// Publisher 是 go-redis 客户端的发布子集。
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink 以 JSON 发布到 Redis 频道。
type RedisSink struct {
	pub     Publisher
	channel string
}

func NewRedisSink(pub Publisher, channel string) *RedisSink {
	return &RedisSink{pub: pub, channel: channel}
}

// NewRedisClient 按地址创建客户端。
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev types.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.channel, raw).Err()
}

// MessageWriter 是 kafka.Writer 的写入子集。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink 以品种为 key 写入 Kafka，同一品种的事件保持分区内有序。
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

// NewKafkaWriter 创建同步写入的 writer，按 key 哈希分区。
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, ev types.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: raw,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "id", Value: []byte(ev.ID)},
		},
	})
}

// EventStore 持久化事件。
type EventStore interface {
	SaveEvent(ctx context.Context, ev types.Event) error
}

// StoreSink 把事件写入数据库。
type StoreSink struct {
	store EventStore
}

func NewStoreSink(s EventStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, ev types.Event) error {
	return s.store.SaveEvent(ctx, ev)
}
