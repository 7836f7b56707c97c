package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphadesk/internal/types"
)

type collectSink struct {
	name string
	mu   sync.Mutex
	got  []types.Event
	err  error
}

func (c *collectSink) Name() string { return c.name }

func (c *collectSink) Send(_ context.Context, ev types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
	return c.err
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(ctx context.Context, _ types.Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }

func (panicSink) Send(context.Context, types.Event) error { panic("boom") }

func ev(kind types.EventKind, sev types.Severity) types.Event {
	return types.NewEvent(kind, sev, string(kind)).WithSymbol("XAUUSD")
}

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(16)
	all := &collectSink{name: "all"}
	warn := &collectSink{name: "warn", err: errors.New("sink down")}
	d.Add(all, nil)
	d.Add(warn, MinSeverity(types.SeverityWarn))
	d.Add(panicSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Publish(ev(types.EventPositionOpened, types.SeverityInfo), ev(types.EventOrderRejected, types.SeverityWarn))
	require.Eventually(t, func() bool { return all.count() == 2 && warn.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, types.EventOrderRejected, warn.got[0].Kind)
	assert.Equal(t, []string{"all", "warn", "panic"}, d.Sinks())
}

func TestSlowSinkDoesNotBlockOthers(t *testing.T) {
	d := NewDispatcher(2)
	slow := &blockingSink{release: make(chan struct{})}
	fast := &collectSink{name: "fast"}
	d.Add(slow, nil)
	d.Add(fast, nil)
	var mu sync.Mutex
	drops := map[string]int{}
	d.OnDrop(func(s string) {
		mu.Lock()
		drops[s]++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	start := time.Now()
	for i := 0; i < 20; i++ {
		d.Publish(ev(types.EventStopMoved, types.SeverityInfo))
		time.Sleep(time.Millisecond)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, func() bool { return fast.count() >= 10 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Positive(t, drops["blocking"])
	mu.Unlock()
	close(slow.release)
}

func TestFilters(t *testing.T) {
	f := Any(Kinds(types.EventRiskHalt), MinSeverity(types.SeverityError))
	assert.True(t, f(ev(types.EventRiskHalt, types.SeverityInfo)))
	assert.True(t, f(ev(types.EventOrderFailed, types.SeverityError)))
	assert.False(t, f(ev(types.EventStopMoved, types.SeverityWarn)))
}

func TestFormatEvent(t *testing.T) {
	e := ev(types.EventPositionClosed, types.SeverityInfo).
		WithTicket("42").
		WithCorrelation("cmd-1").
		WithField("profit", 12.5).
		WithField("reason", "close_all")
	text := FormatEvent(e).RenderMarkdown()
	assert.True(t, strings.HasPrefix(text, "🔴 position_closed · XAUUSD"))
	assert.Contains(t, text, "- ticket: 42")
	assert.Contains(t, text, "- profit: 12.5")
	assert.Contains(t, text, "ref: cmd-1")
	assert.Less(t, strings.Index(text, "profit"), strings.Index(text, "reason"))
}

type textRecorder struct{ last string }

func (r *textRecorder) SendText(_ context.Context, text string) error {
	r.last = text
	return nil
}

func TestTextSink(t *testing.T) {
	rec := &textRecorder{}
	s := NewTextSink("telegram", rec)
	require.NoError(t, s.Send(context.Background(), ev(types.EventRiskHalt, types.SeverityWarn)))
	assert.Contains(t, rec.last, "risk_halt")
	assert.Equal(t, "telegram", s.Name())
}

func TestDiscordSink(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	require.NoError(t, NewDiscordSink(srv.URL).Send(context.Background(), ev(types.EventEngineStarted, types.SeverityInfo)))
	assert.Contains(t, body["content"], "engine_started")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer bad.Close()
	assert.Error(t, NewDiscordSink(bad.URL).Send(context.Background(), ev(types.EventEngineStarted, types.SeverityInfo)))
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func TestRedisSink(t *testing.T) {
	pub := &fakePublisher{}
	e := ev(types.EventPositionOpened, types.SeverityInfo)
	require.NoError(t, NewRedisSink(pub, "alphadesk.events").Send(context.Background(), e))
	assert.Equal(t, "alphadesk.events", pub.channel)
	var decoded types.Event
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	e := ev(types.EventPartialClosed, types.SeverityInfo)
	require.NoError(t, NewKafkaSink(w).Send(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "XAUUSD", string(w.msgs[0].Key))
	assert.Equal(t, "partial_closed", string(w.msgs[0].Headers[0].Value))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	e := ev(types.EventStopMoved, types.SeverityInfo)
	require.NoError(t, hub.Send(context.Background(), e))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var got types.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, e.ID, got.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
