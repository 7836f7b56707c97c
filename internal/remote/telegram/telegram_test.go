package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"alphadesk/internal/config"
	"alphadesk/internal/engine"
	"alphadesk/internal/state"
	"alphadesk/internal/types"
)

type MockController struct {
	mock.Mock
}

func (m *MockController) Start(src string) engine.Ack    { return m.Called(src).Get(0).(engine.Ack) }
func (m *MockController) Stop(src string) engine.Ack     { return m.Called(src).Get(0).(engine.Ack) }
func (m *MockController) CloseAll(src string) engine.Ack { return m.Called(src).Get(0).(engine.Ack) }
func (m *MockController) Status() state.Snapshot         { return m.Called().Get(0).(state.Snapshot) }

type fakeAPI struct {
	mu      sync.Mutex
	sent    []map[string]any
	updates []string
	polls   int
	failMD  bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if _, md := body["parse_mode"]; md && f.failMD {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"ok":false,"description":"can't parse entities"}`))
				return
			}
			f.sent = append(f.sent, body)
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.polls++
			if f.polls > 1 {
				f.mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				f.mu.Lock()
				_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			assert.Equal(t, "0", r.URL.Query().Get("offset"))
			_, _ = w.Write([]byte(`{"ok":true,"result":[` + strings.Join(f.updates, ",") + `]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, fmt.Sprint(m["text"]))
	}
	return out
}

func update(id int64, chat, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"chat":{"id":%s},"from":{"username":"op"},"text":%q}}`, id, chat, text)
}

func TestSendTextFallsBackToPlain(t *testing.T) {
	api := &fakeAPI{failMD: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL, "TOKEN", "42")
	require.NoError(t, c.SendText(context.Background(), "*position_closed*"))
	require.Len(t, api.sent, 1)
	assert.NotContains(t, api.sent[0], "parse_mode")
	assert.Equal(t, "42", api.sent[0]["chat_id"])
}

func TestSendRequiresConfig(t *testing.T) {
	c := NewClient("", "", "")
	require.Error(t, c.SendText(context.Background(), "hi"))
}

func TestHandleCommands(t *testing.T) {
	ctl := &MockController{}
	ctl.On("Stop", "telegram").Return(engine.Ack{CommandID: "c1", Accepted: true, Message: "engine will idle from next tick"}).Once()
	ctl.On("CloseAll", "telegram").Return(engine.Ack{CommandID: "c2", Accepted: true, Message: "close_all queued for next tick"}).Twice()
	ctl.On("Start", "telegram").Return(engine.Ack{CommandID: "c3", Accepted: false, Message: "nope"}).Once()
	bot := NewBot(NewClient("", "T", "42"), ctl, "42", 0)

	reply, ok := bot.Handle("/stop")
	require.True(t, ok)
	assert.Contains(t, reply, "ref: c1")

	reply, _ = bot.Handle("/close_all")
	assert.Contains(t, reply, "c2")
	reply, _ = bot.Handle("/closeall@alphadesk_bot")
	assert.Contains(t, reply, "c2")

	reply, _ = bot.Handle("/start")
	assert.Contains(t, reply, "未受理")

	reply, _ = bot.Handle("/unknown")
	assert.Contains(t, reply, "/help")

	_, ok = bot.Handle("hello")
	assert.False(t, ok)
	ctl.AssertExpectations(t)
}

func TestRunServesOnlyConfiguredChat(t *testing.T) {
	api := &fakeAPI{updates: []string{
		update(7, "999", "/stop"),
		update(8, "42", "/status"),
	}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	st := state.New(config.DefaultEngineConfig(), state.Options{})
	st.SetRunning(true)
	st.Commit(state.Commit{
		At:              time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		Account:         types.AccountSnapshot{Equity: 10120.5, Balance: 10000},
		BrokerAvailable: true,
		Positions: []types.Position{{
			Ticket: "T1", Symbol: "XAUUSD", Direction: types.DirectionBuy, Volume: 0.1, EntryPrice: 2000, Phase: types.PhaseOpen,
		}},
	})
	ctl := engine.NewControl(st, nil)

	bot := NewBot(NewClient(srv.URL, "TOKEN", "42"), ctl, "42", 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bot.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(api.sentTexts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	texts := api.sentTexts()
	assert.Contains(t, texts[0], "运行中")
	assert.Contains(t, texts[0], "XAUUSD BUY 0.10")
	assert.True(t, st.Running(), "unauthorized chat must not stop the engine")
	assert.Equal(t, int64(9), bot.offset)
}
