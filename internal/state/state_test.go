package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphadesk/internal/config"
	"alphadesk/internal/types"
)

func TestStagedConfigAppliesAtTickBoundary(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{})
	next := config.DefaultEngineConfig()
	next.Symbols = []string{"EURUSD"}
	s.StageConfig(next)

	snap := s.Snapshot()
	assert.Equal(t, []string{"XAUUSD"}, snap.Config.Symbols)
	assert.True(t, snap.ConfigStaged)

	view := s.Begin()
	assert.True(t, view.Applied)
	assert.Equal(t, []string{"EURUSD"}, view.Config.Symbols)
	assert.Equal(t, 2, view.ConfigVersion)

	view = s.Begin()
	assert.False(t, view.Applied)
}

func TestSnapshotIsDetached(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{})
	s.Commit(Commit{
		At:        time.Now(),
		Positions: []types.Position{{Ticket: "1", Symbol: "XAUUSD"}},
		Signals:   map[string]types.Signal{"XAUUSD": {Action: types.ActionBuy}},
	})
	snap := s.Snapshot()
	snap.Positions[0].Ticket = "mutated"
	snap.Signals["XAUUSD"] = types.Signal{Action: types.ActionSell}
	snap.Config.Symbols[0] = "BTCUSD"

	again := s.Snapshot()
	assert.Equal(t, "1", again.Positions[0].Ticket)
	assert.Equal(t, types.ActionBuy, again.Signals["XAUUSD"].Action)
	assert.Equal(t, "XAUUSD", again.Config.Symbols[0])
	assert.EqualValues(t, 1, again.TickCount)
}

func TestQueueDropsOldestButKeepsCloseAll(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{QueueSize: 3})
	closeAll := types.NewCommand(types.CommandCloseAll, "api")
	a := types.NewCommand(types.CommandCloseTicket, "api")
	b := types.NewCommand(types.CommandCloseTicket, "api")
	c := types.NewCommand(types.CommandCloseTicket, "api")

	for _, cmd := range []types.Command{closeAll, a, b} {
		assert.True(t, s.Enqueue(cmd).Accepted)
	}
	res := s.Enqueue(c)
	require.NotNil(t, res.Dropped)
	assert.Equal(t, a.ID, res.Dropped.ID)

	view := s.Begin()
	ids := []string{}
	for _, cmd := range view.Commands {
		ids = append(ids, cmd.ID)
	}
	assert.Equal(t, []string{closeAll.ID, b.ID, c.ID}, ids)
	assert.Zero(t, s.QueueDepth())
}

func TestQueueFullOfCloseAll(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{QueueSize: 2})
	first := types.NewCommand(types.CommandCloseAll, "telegram")
	second := types.NewCommand(types.CommandCloseAll, "api")
	s.Enqueue(first)
	s.Enqueue(second)

	res := s.Enqueue(types.NewCommand(types.CommandCloseAll, "api"))
	assert.True(t, res.Accepted)
	assert.Equal(t, second.ID, res.MergedInto)

	other := types.NewCommand(types.CommandCloseTicket, "api")
	res = s.Enqueue(other)
	assert.False(t, res.Accepted)
	assert.Equal(t, other.ID, res.Dropped.ID)
	assert.Equal(t, 2, s.QueueDepth())
}

func TestRecentEventsRing(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{EventHistory: 3})
	for _, k := range []types.EventKind{types.EventEngineStarted, types.EventPositionOpened, types.EventStopMoved, types.EventPositionClosed} {
		s.RecordEvents(types.NewEvent(k, types.SeverityInfo, string(k)))
	}
	got := s.RecentEvents(10)
	require.Len(t, got, 3)
	assert.Equal(t, types.EventPositionClosed, got[0].Kind)
	assert.Equal(t, types.EventPositionOpened, got[2].Kind)
	assert.Len(t, s.RecentEvents(1), 1)
}

func TestConcurrentAccess(t *testing.T) {
	s := New(config.DefaultEngineConfig(), Options{QueueSize: 8})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetRunning(j%2 == 0)
				_ = s.Snapshot()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Enqueue(types.NewCommand(types.CommandCloseAll, "t"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Begin()
				s.Commit(Commit{At: time.Now()})
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.QueueDepth(), 8)
}
