package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"greenroom/internal/credential"
	"greenroom/pkg/types"
)

// trackingRegistry records joins and leaves.
type trackingRegistry struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
}

func (r *trackingRegistry) Join(roomID, userID string, role types.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, userID)
	return nil
}

func (r *trackingRegistry) Leave(roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, userID)
	return nil
}

func (r *trackingRegistry) snapshot() (joins, leaves []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joins...), append([]string(nil), r.leaves...)
}

func (r *trackingRegistry) CreateSession(ctx context.Context, consultationID, userID string, role types.Role) (string, string, *types.SessionConfig, error) {
	return "", "", nil, nil
}

func (r *trackingRegistry) EndSession(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error) {
	return nil, nil
}

func (r *trackingRegistry) ForceEndSession(ctx context.Context, roomID string, reason types.EndReason) error {
	return nil
}

func (r *trackingRegistry) ListActiveSessions() []*types.Session { return nil }

func (r *trackingRegistry) SessionSnapshot(roomID string) (*types.Session, bool) { return nil, false }

func newTestHandler() (*Handler, *trackingRegistry, *credential.Issuer) {
	registry := &trackingRegistry{}
	issuer := credential.NewIssuer([]byte("test-secret"), time.Hour)
	return NewHandler(registry, issuer, nil), registry, issuer
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandleWebSocket_JoinAndLeave(t *testing.T) {
	handler, registry, issuer := newTestHandler()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	token, err := issuer.Issue("room-1", "client-1", types.RoleClient, "consult-1")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "credential="+token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	waitFor(t, func() bool {
		joins, _ := registry.snapshot()
		return len(joins) == 1
	}, "join was not recorded")

	_ = conn.Close()

	waitFor(t, func() bool {
		_, leaves := registry.snapshot()
		return len(leaves) == 1 && leaves[0] == "client-1"
	}, "leave was not recorded after socket close")
}

func TestHandleWebSocket_MissingCredential(t *testing.T) {
	handler, registry, _ := newTestHandler()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	joins, _ := registry.snapshot()
	if len(joins) != 0 {
		t.Errorf("no join should be recorded, got %v", joins)
	}
}

func TestHandleWebSocket_InvalidCredential(t *testing.T) {
	handler, _, _ := newTestHandler()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "credential=garbage"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 handshake response, got %+v", resp)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func TestHandleWebSocket_RoomMismatch(t *testing.T) {
	handler, registry, issuer := newTestHandler()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	token, err := issuer.Issue("room-other", "client-1", types.RoleClient, "consult-1")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "credential="+token+"&room_id=room-1"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 handshake response, got %+v", resp)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	joins, _ := registry.snapshot()
	if len(joins) != 0 {
		t.Errorf("no join should be recorded, got %v", joins)
	}
}
