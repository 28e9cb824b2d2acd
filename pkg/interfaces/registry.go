package interfaces

import (
	"context"

	"greenroom/pkg/types"
)

// SessionRegistry owns the set of live sessions and is the single source of
// truth for in-memory session state.
type SessionRegistry interface {
	// CreateSession looks up the consultation, creates a live session and
	// returns the room ID, a signed credential for the initiator and the
	// session display configuration.
	CreateSession(ctx context.Context, consultationID, userID string, role types.Role) (string, string, *types.SessionConfig, error)

	// Join appends a new presence interval for the user. A repeat join is a
	// reconnect and opens a fresh interval. Unknown rooms are absorbed.
	Join(roomID, userID string, role types.Role) error

	// Leave closes the newest open presence interval for the user. Unknown
	// rooms or users are absorbed; disconnects race with termination.
	Leave(roomID, userID string) error

	// EndSession terminates the session and reconciles billing. Safe to call
	// more than once; repeats resolve the stored outcome.
	EndSession(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error)

	// ForceEndSession closes every open presence interval and terminates the
	// session with the given reason. Invoked by the session monitor.
	ForceEndSession(ctx context.Context, roomID string, reason types.EndReason) error

	// ListActiveSessions returns snapshots of all live sessions.
	ListActiveSessions() []*types.Session

	// SessionSnapshot returns a copy of one live session, if present.
	SessionSnapshot(roomID string) (*types.Session, bool)
}

// SessionWatcher schedules a background watchdog per live session. The
// returned cancel function stops the watchdog and must be called exactly
// once, when the session ends.
type SessionWatcher interface {
	Watch(roomID string) (cancel func())
}
