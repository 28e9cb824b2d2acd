package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"greenroom/pkg/types"
)

// stubRegistry serves snapshots and records forced ends.
type stubRegistry struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	forced   []types.EndReason
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{sessions: make(map[string]*types.Session)}
}

func (r *stubRegistry) put(session *types.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.RoomID] = session
}

func (r *stubRegistry) SessionSnapshot(roomID string) (*types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[roomID]
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

func (r *stubRegistry) ForceEndSession(ctx context.Context, roomID string, reason types.EndReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, roomID)
	r.forced = append(r.forced, reason)
	return nil
}

func (r *stubRegistry) forcedReasons() []types.EndReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EndReason, len(r.forced))
	copy(out, r.forced)
	return out
}

func (r *stubRegistry) CreateSession(ctx context.Context, consultationID, userID string, role types.Role) (string, string, *types.SessionConfig, error) {
	return "", "", nil, nil
}

func (r *stubRegistry) Join(roomID, userID string, role types.Role) error { return nil }

func (r *stubRegistry) Leave(roomID, userID string) error { return nil }

func (r *stubRegistry) EndSession(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error) {
	return nil, nil
}

func (r *stubRegistry) ListActiveSessions() []*types.Session { return nil }

func newTestMonitor(registry *stubRegistry, now time.Time) *Monitor {
	m := New(Config{
		Interval:           2 * time.Millisecond,
		MaxSessionDuration: 4 * time.Hour,
		InactivityWindow:   10 * time.Minute,
	}, nil).WithClock(func() time.Time { return now })
	m.Bind(registry)
	return m
}

func waitForForced(t *testing.T, registry *stubRegistry, want types.EndReason) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("no forced end with reason %q within deadline", want)
		case <-time.After(2 * time.Millisecond):
			reasons := registry.forcedReasons()
			if len(reasons) == 0 {
				continue
			}
			if reasons[0] != want {
				t.Fatalf("expected reason %q, got %q", want, reasons[0])
			}
			return
		}
	}
}

func TestMonitor_ForceEndsOverlongSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	registry := newStubRegistry()
	registry.put(&types.Session{
		RoomID:    "room-1",
		StartTime: now.Add(-5 * time.Hour),
		Participants: []types.Participant{
			{UserID: "expert-1", Role: types.RoleExpert, JoinedAt: now.Add(-5 * time.Hour)},
		},
	})

	m := newTestMonitor(registry, now)
	defer m.Shutdown()
	cancel := m.Watch("room-1")
	defer cancel()

	waitForForced(t, registry, types.EndReasonTimeout)
}

func TestMonitor_ForceEndsAbandonedSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	left := now.Add(-15 * time.Minute)
	registry := newStubRegistry()
	registry.put(&types.Session{
		RoomID:    "room-1",
		StartTime: now.Add(-time.Hour),
		Participants: []types.Participant{
			{UserID: "expert-1", Role: types.RoleExpert, JoinedAt: now.Add(-time.Hour), LeftAt: &left},
		},
	})

	m := newTestMonitor(registry, now)
	defer m.Shutdown()
	cancel := m.Watch("room-1")
	defer cancel()

	waitForForced(t, registry, types.EndReasonNoParticipants)
}

func TestMonitor_LeavesHealthySessionAlone(t *testing.T) {
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	registry := newStubRegistry()
	registry.put(&types.Session{
		RoomID:    "room-1",
		StartTime: now.Add(-30 * time.Minute),
		Participants: []types.Participant{
			{UserID: "expert-1", Role: types.RoleExpert, JoinedAt: now.Add(-30 * time.Minute)},
			{UserID: "client-1", Role: types.RoleClient, JoinedAt: now.Add(-28 * time.Minute)},
		},
	})

	m := newTestMonitor(registry, now)
	defer m.Shutdown()
	cancel := m.Watch("room-1")
	defer cancel()

	time.Sleep(30 * time.Millisecond)
	if reasons := registry.forcedReasons(); len(reasons) != 0 {
		t.Errorf("healthy session should not be force-ended, got %v", reasons)
	}
}

func TestMonitor_RecentDepartureWithinGrace(t *testing.T) {
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	left := now.Add(-2 * time.Minute)
	registry := newStubRegistry()
	registry.put(&types.Session{
		RoomID:    "room-1",
		StartTime: now.Add(-time.Hour),
		Participants: []types.Participant{
			{UserID: "expert-1", Role: types.RoleExpert, JoinedAt: now.Add(-time.Hour), LeftAt: &left},
		},
	})

	m := newTestMonitor(registry, now)
	defer m.Shutdown()
	cancel := m.Watch("room-1")
	defer cancel()

	time.Sleep(30 * time.Millisecond)
	if reasons := registry.forcedReasons(); len(reasons) != 0 {
		t.Errorf("session within departure grace should not be force-ended, got %v", reasons)
	}
}

func TestMonitor_SelfCancelsWhenSessionGone(t *testing.T) {
	registry := newStubRegistry()

	m := newTestMonitor(registry, time.Now())
	cancel := m.Watch("gone-room")
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog for a removed session did not stop")
	}

	if reasons := registry.forcedReasons(); len(reasons) != 0 {
		t.Errorf("expected no forced ends, got %v", reasons)
	}
}
