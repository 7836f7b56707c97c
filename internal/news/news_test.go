package news

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"alphadesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nfp = time.Date(2024, 1, 8, 13, 30, 0, 0, time.UTC)

func TestCheckWindowIsInclusive(t *testing.T) {
	events := []types.NewsEvent{{Time: nfp, Currency: "USD", Title: "NFP", Impact: types.ImpactHigh}}
	buf := 30 * time.Minute

	cases := []struct {
		name    string
		now     time.Time
		allowed bool
	}{
		{"well before", nfp.Add(-31 * time.Minute), true},
		{"window start", nfp.Add(-30 * time.Minute), false},
		{"at event", nfp, false},
		{"window end", nfp.Add(30 * time.Minute), false},
		{"after", nfp.Add(30*time.Minute + time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Check(events, tc.now, buf, types.ImpactHigh)
			assert.Equal(t, tc.allowed, d.Allowed)
		})
	}
}

func TestCheckRespectsImpactAndEventWindow(t *testing.T) {
	events := []types.NewsEvent{
		{Time: nfp, Title: "minor", Impact: types.ImpactMedium},
		{Time: nfp.Add(4 * time.Hour), Title: "Fed", Impact: types.ImpactHigh, Before: 2 * time.Hour},
	}
	assert.True(t, Check(events, nfp, 30*time.Minute, types.ImpactHigh).Allowed)
	assert.False(t, Check(events, nfp, 30*time.Minute, types.ImpactMedium).Allowed)

	d := Check(events, nfp.Add(2*time.Hour+time.Minute), 30*time.Minute, types.ImpactHigh)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Fed")
}

func TestFilterConcurrentUpdate(t *testing.T) {
	f := NewFilter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			f.Update([]types.NewsEvent{{Time: nfp.Add(time.Duration(i) * time.Hour), Impact: types.ImpactHigh}}, time.Now())
		}(i)
		go func() {
			defer wg.Done()
			_ = f.Check(nfp, time.Minute, types.ImpactHigh)
		}()
	}
	wg.Wait()
	assert.Len(t, f.Events(), 1)

	f.Update([]types.NewsEvent{
		{Time: nfp.Add(2 * time.Hour), Title: "b", Impact: types.ImpactHigh},
		{Time: nfp.Add(time.Hour), Title: "a", Impact: types.ImpactLow},
	}, nfp)
	next, ok := f.Next(nfp, types.ImpactHigh)
	require.True(t, ok)
	assert.Equal(t, "b", next.Title)
	assert.Equal(t, nfp, f.UpdatedAt())
}

func TestFMPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/economic-calendar", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		assert.Equal(t, "2024-01-08", r.URL.Query().Get("from"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"event":"Nonfarm Payrolls","date":"2024-01-08 13:30:00","country":"US","currency":"USD","impact":"High"},
			{"event":"Retail","date":"2024-01-08 15:00:00","country":"US","impact":"Medium"},
			{"event":"broken","date":"yesterday","impact":"High"}
		]`))
	}))
	defer srv.Close()

	events, err := NewFMPSource(srv.URL, "k").Fetch(context.Background(), nfp, nfp.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, nfp, events[0].Time)
	assert.Equal(t, types.ImpactHigh, events[0].Impact)
	assert.Equal(t, "USD", events[0].Currency)
	assert.Equal(t, "US", events[1].Currency)
	assert.Equal(t, types.ImpactMedium, events[1].Impact)
}

func TestFMPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") == "bad" {
			_, _ = w.Write([]byte(`{"Error Message":"Invalid API KEY."}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFMPSource(srv.URL, "bad").Fetch(context.Background(), nfp, nfp)
	assert.ErrorContains(t, err, "Invalid API KEY")
	_, err = NewFMPSource(srv.URL, "ok").Fetch(context.Background(), nfp, nfp)
	assert.ErrorContains(t, err, "502")
}

func TestParseForexFactory(t *testing.T) {
	body, err := os.ReadFile("testdata/ff_week.html")
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	events, err := parseForexFactory(body, 2024, ny)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, nfp, events[0].Time)
	assert.Equal(t, types.ImpactHigh, events[0].Impact)
	assert.Equal(t, "Non-Farm Employment Change", events[0].Title)
	assert.Equal(t, nfp, events[1].Time, "blank time inherits previous row")
	assert.Equal(t, types.ImpactMedium, events[1].Impact)
	assert.Equal(t, time.Date(2024, 1, 9, 19, 0, 0, 0, time.UTC), events[2].Time)
	assert.Equal(t, types.ImpactLow, events[2].Impact)
}

func TestForexFactorySourceFiltersRange(t *testing.T) {
	body, err := os.ReadFile("testdata/ff_week.html")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	src := NewForexFactorySource(srv.URL, nil)
	src.now = func() time.Time { return nfp }
	events, err := src.Fetch(context.Background(), nfp.Add(-time.Hour), nfp.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFileSource(t *testing.T) {
	src := NewFileSource("testdata/calendar.yaml")
	from := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	events, err := src.Fetch(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "CPI m/m", events[0].Title)
	assert.Equal(t, 45*time.Minute, events[0].Before)
	assert.Equal(t, time.Duration(0), events[0].After)

	_, err = NewFileSource("testdata/missing.yaml").Fetch(context.Background(), from, from)
	assert.Error(t, err)
}

type fakeSource struct {
	name   string
	events []types.NewsEvent
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Fetch(context.Context, time.Time, time.Time) ([]types.NewsEvent, error) {
	f.calls++
	return f.events, f.err
}

type memCache struct {
	saved []types.NewsEvent
	err   error
}

func (m *memCache) SaveNews(_ context.Context, events []types.NewsEvent) error {
	m.saved = append([]types.NewsEvent(nil), events...)
	return nil
}

func (m *memCache) LoadNews(context.Context, time.Time, time.Time) ([]types.NewsEvent, error) {
	return m.saved, m.err
}

func TestRefresherFallbackOrder(t *testing.T) {
	primary := &fakeSource{name: "fmp", err: errors.New("quota")}
	backup := &fakeSource{name: "ff", events: []types.NewsEvent{{Time: nfp, Impact: types.ImpactHigh}}}
	cache := &memCache{}
	filter := NewFilter()
	r := NewRefresher(filter, cache, time.Hour, primary, backup)
	r.nowFn = func() time.Time { return nfp }

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
	assert.Len(t, filter.Events(), 1)
	assert.Len(t, cache.saved, 1)
}

func TestRefresherUsesCacheWhenAllSourcesFail(t *testing.T) {
	cache := &memCache{saved: []types.NewsEvent{{Time: nfp, Title: "cached", Impact: types.ImpactHigh}}}
	filter := NewFilter()
	r := NewRefresher(filter, cache, time.Hour, &fakeSource{name: "fmp", err: errors.New("offline")})
	r.nowFn = func() time.Time { return nfp }

	err := r.Refresh(context.Background())
	assert.ErrorContains(t, err, "offline")
	require.Len(t, filter.Events(), 1)
	assert.Equal(t, "cached", filter.Events()[0].Title)
	assert.False(t, filter.Check(nfp, time.Minute, types.ImpactHigh).Allowed)

	seeded := NewFilter()
	r2 := NewRefresher(seeded, cache, time.Hour)
	r2.nowFn = func() time.Time { return nfp }
	require.NoError(t, r2.SeedFromCache(context.Background()))
	assert.Len(t, seeded.Events(), 1)
}

func TestUpcoming(t *testing.T) {
	events := []types.NewsEvent{
		{Time: nfp.Add(-time.Hour), Impact: types.ImpactHigh},
		{Time: nfp.Add(time.Hour), Impact: types.ImpactHigh},
		{Time: nfp.Add(2 * time.Hour), Impact: types.ImpactLow},
		{Time: nfp.Add(48 * time.Hour), Impact: types.ImpactHigh},
	}
	assert.Len(t, Upcoming(events, nfp, 24*time.Hour, types.ImpactHigh), 1)
}
