package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/models"
	"github.com/verdantlabs/canopy/pkg/protocol"
	"github.com/verdantlabs/canopy/pkg/session"
)

func testSession(t *testing.T, handler http.Handler) (*Session, *session.Store) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"))
	store.Set(models.SessionToken{AccessToken: "old-token", RefreshToken: "refresh-token"})
	g := gateway.New(gateway.Config{BaseURL: ts.URL, Sessions: store})
	return NewSession(g), store
}

// answerHandler responds to /chat with a fixed answer after an optional
// delay, so tests can observe the pending placeholder.
func answerHandler(delay time.Duration, resp protocol.ChatResponse) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func TestSend_PendingPlaceholderThenAnswer(t *testing.T) {
	s, _ := testSession(t, answerHandler(40*time.Millisecond, protocol.ChatResponse{
		Answer:    "The Q3 total is 1.2M.",
		Documents: []models.DocumentRef{{ID: "doc-1", Name: "q3.pdf"}},
	}))

	id, done := s.Send(context.Background(), "what is the Q3 total?", "finance")

	// Both turns are visible immediately, the assistant one pending.
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Text != "what is the Q3 total?" {
		t.Errorf("unexpected user turn: %+v", msgs[0])
	}
	if msgs[1].ID != id || !msgs[1].Pending {
		t.Errorf("assistant turn should be the pending placeholder")
	}

	<-done
	msgs = s.Messages()
	final := msgs[1]
	if final.Pending || final.Errored {
		t.Errorf("placeholder should settle cleanly, got %+v", final)
	}
	if final.Text != "The Q3 total is 1.2M." {
		t.Errorf("answer = %q", final.Text)
	}
	if len(final.Documents) != 1 || final.Documents[0].Name != "q3.pdf" {
		t.Errorf("documents = %+v", final.Documents)
	}
}

func TestSend_WorkspaceAnalysisBanner(t *testing.T) {
	s, _ := testSession(t, answerHandler(0, protocol.ChatResponse{
		Answer:       "Revenue grew 8%.",
		QueryType:    protocol.QueryTypeWorkspace,
		FileAnalyzed: "budget.xlsx",
	}))

	_, done := s.Send(context.Background(), "summarize", "finance")
	<-done

	got := s.Messages()[1].Text
	want := "Analyzed file: budget.xlsx\n\nRevenue grew 8%."
	if got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestSend_FileScopeInRequest(t *testing.T) {
	var gotFileID atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotFileID.Store(req.FileID)
		json.NewEncoder(w).Encode(protocol.ChatResponse{Answer: "ok"})
	})
	s, _ := testSession(t, handler)
	ctx := context.Background()

	s.SelectFile(&models.FolderNode{ID: "file-9", Name: "plan.doc", Kind: models.KindFile})
	_, done := s.Send(ctx, "scoped", "finance")
	<-done
	if gotFileID.Load() != "file-9" {
		t.Errorf("file_id = %v, want file-9", gotFileID.Load())
	}

	s.ClearSelection()
	_, done = s.Send(ctx, "unscoped", "finance")
	<-done
	if gotFileID.Load() != "" {
		t.Errorf("file_id after clear = %v, want empty", gotFileID.Load())
	}
}

func TestSend_InitializingBackend(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s, _ := testSession(t, handler)

	_, done := s.Send(context.Background(), "hello", "finance")
	<-done

	final := s.Messages()[1]
	if !final.Errored || final.Pending {
		t.Fatalf("placeholder should settle as an error, got %+v", final)
	}
	if final.Text != MsgInitializing {
		t.Errorf("text = %q, want initializing message", final.Text)
	}
}

func TestSend_TransparentTokenRefresh(t *testing.T) {
	var refreshes atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshes.Add(1)
			json.NewEncoder(w).Encode(protocol.RefreshResponse{AccessToken: "new-token"})
		case "/chat":
			if r.Header.Get("Authorization") != "Bearer new-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(protocol.ChatResponse{Answer: "after refresh"})
		default:
			http.NotFound(w, r)
		}
	})
	s, _ := testSession(t, handler)

	_, done := s.Send(context.Background(), "hello", "finance")
	<-done

	final := s.Messages()[1]
	if final.Errored {
		t.Fatalf("refresh should be invisible to the transcript, got %q", final.Text)
	}
	if final.Text != "after refresh" {
		t.Errorf("text = %q", final.Text)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes.Load())
	}
}

func TestSend_AuthExpiredSignsOut(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Both the chat call and the refresh are rejected.
		w.WriteHeader(http.StatusUnauthorized)
	})
	s, store := testSession(t, handler)

	_, done := s.Send(context.Background(), "hello", "finance")
	<-done

	final := s.Messages()[1]
	if !final.Errored || final.Text != MsgAuthExpired {
		t.Errorf("got %+v, want auth-expired error turn", final)
	}
	if store.AccessToken() != "" {
		t.Error("session should be cleared after a failed refresh")
	}
}

func TestSend_BusinessErrorVerbatim(t *testing.T) {
	s, _ := testSession(t, answerHandler(0, protocol.ChatResponse{
		Error: "Collection 'finance' is still indexing.",
	}))

	_, done := s.Send(context.Background(), "hello", "finance")
	<-done

	final := s.Messages()[1]
	if !final.Errored {
		t.Fatal("business error should settle the turn as errored")
	}
	if final.Text != "Collection 'finance' is still indexing." {
		t.Errorf("text = %q, want the backend's message verbatim", final.Text)
	}
}

func TestSend_ConnectivityFallback(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"))
	// Nothing listens on this port.
	g := gateway.New(gateway.Config{BaseURL: "http://127.0.0.1:1", Sessions: store})
	s := NewSession(g)

	_, done := s.Send(context.Background(), "hello", "finance")
	<-done

	final := s.Messages()[1]
	if !final.Errored || final.Text != MsgConnectivity {
		t.Errorf("got %+v, want connectivity error turn", final)
	}
}

func TestSend_ConcurrentTurnsSettleIndependently(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Message, "slow") {
			time.Sleep(60 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(protocol.ChatResponse{Answer: "re: " + req.Message})
	})
	s, _ := testSession(t, handler)
	ctx := context.Background()

	slowID, slowDone := s.Send(ctx, "slow one", "finance")
	fastID, fastDone := s.Send(ctx, "fast one", "finance")

	<-fastDone
	<-slowDone

	byID := make(map[string]models.ChatMessage)
	for _, m := range s.Messages() {
		byID[m.ID] = m
	}
	if byID[fastID].Text != "re: fast one" {
		t.Errorf("fast turn = %q", byID[fastID].Text)
	}
	if byID[slowID].Text != "re: slow one" {
		t.Errorf("slow turn = %q", byID[slowID].Text)
	}
}

func TestReset_ClearsTranscriptAndSelection(t *testing.T) {
	s, _ := testSession(t, answerHandler(0, protocol.ChatResponse{Answer: "ok"}))
	_, done := s.Send(context.Background(), "hello", "finance")
	<-done
	s.SelectFile(&models.FolderNode{ID: "file-1", Kind: models.KindFile})

	s.Reset()

	if len(s.Messages()) != 0 {
		t.Error("transcript should be empty after reset")
	}
	if _, ok := s.Selected(); ok {
		t.Error("selection should be cleared after reset")
	}
}
