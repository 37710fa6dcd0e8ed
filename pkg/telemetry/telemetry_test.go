package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/protocol"
	"github.com/verdantlabs/canopy/pkg/session"
)

func testPoller(t *testing.T, handler http.Handler, interval time.Duration) *Poller {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"))
	g := gateway.New(gateway.Config{BaseURL: ts.URL, Sessions: store})
	return NewPoller(g, interval)
}

func TestCachedResponsesCounter(t *testing.T) {
	ResetCachedResponses()

	RecordCachedResponse()
	RecordCachedResponse()
	if got := CachedResponses(); got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}

	ResetCachedResponses()
	if got := CachedResponses(); got != 0 {
		t.Errorf("counter after reset = %d, want 0", got)
	}
}

func TestPoll_RecordsBackendReading(t *testing.T) {
	ResetCachedResponses()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.CacheStatusResponse{TotalEntries: 42})
	})
	p := testPoller(t, handler, time.Minute)

	p.Poll(context.Background())

	snap := p.Snapshot()
	if snap.TotalEntries != 42 {
		t.Errorf("total entries = %d, want 42", snap.TotalEntries)
	}
	if snap.CachedResponses != 0 {
		t.Errorf("cached responses = %d, want 0", snap.CachedResponses)
	}
}

func TestPoll_FailureKeepsPreviousReading(t *testing.T) {
	var fail atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(protocol.CacheStatusResponse{TotalEntries: 7})
	})
	p := testPoller(t, handler, time.Minute)
	ctx := context.Background()

	p.Poll(ctx)
	fail.Store(true)
	p.Poll(ctx)

	if got := p.Snapshot().TotalEntries; got != 7 {
		t.Errorf("total entries = %d, want the last good reading 7", got)
	}
}

func TestRun_PollsOnInterval(t *testing.T) {
	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		json.NewEncoder(w).Encode(protocol.CacheStatusResponse{TotalEntries: 1})
	})
	p := testPoller(t, handler, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for polls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if polls.Load() < 3 {
		t.Errorf("got %d polls, want at least 3 (initial + ticks)", polls.Load())
	}
}
