package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"greenroom/internal/billing"
	"greenroom/internal/credential"
	"greenroom/pkg/interfaces"
	"greenroom/pkg/types"
)

// Policy holds the session lifecycle constants enforced by the registry.
type Policy struct {
	MaxSessionDuration     time.Duration
	MinimumBillableMinutes int
}

// Manager implements interfaces.SessionRegistry. It owns the set of live
// sessions: a map guarded by a read-write mutex for membership only, with a
// per-session mutex for participant and termination state so unrelated
// sessions never contend with each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession // roomID -> session state

	consultations interfaces.ConsultationStore
	archive       interfaces.SessionArchive
	payments      interfaces.PaymentGateway
	refunds       interfaces.RefundQueue
	stats         interfaces.StatsRecorder
	issuer        *credential.Issuer
	watcher       interfaces.SessionWatcher

	policy Policy
	log    *logrus.Entry
	now    func() time.Time
}

// liveSession pairs a session with its own lock and monitor handle. The lock
// makes terminations mutually exclusive: only the first terminator performs
// reconciliation and side effects, the second observes the stored result.
type liveSession struct {
	mu          sync.Mutex
	session     *types.Session
	cancelWatch func()
	ended       bool
	result      *types.ReconciliationResult
}

// Deps bundles the registry's collaborators. Archive, payments, refunds and
// stats may be nil; the corresponding side effect is skipped.
type Deps struct {
	Consultations interfaces.ConsultationStore
	Archive       interfaces.SessionArchive
	Payments      interfaces.PaymentGateway
	Refunds       interfaces.RefundQueue
	Stats         interfaces.StatsRecorder
	Issuer        *credential.Issuer
}

// NewManager creates a session registry.
func NewManager(deps Deps, policy Policy, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		sessions:      make(map[string]*liveSession),
		consultations: deps.Consultations,
		archive:       deps.Archive,
		payments:      deps.Payments,
		refunds:       deps.Refunds,
		stats:         deps.Stats,
		issuer:        deps.Issuer,
		policy:        policy,
		log:           log,
		now:           time.Now,
	}
}

// SetWatcher late-binds the session monitor. The monitor needs the registry
// to force-end sessions, so it cannot be passed at construction.
func (m *Manager) SetWatcher(w interfaces.SessionWatcher) {
	m.watcher = w
}

// WithClock overrides the registry's time source. Used in tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateSession looks up the consultation's booking, synthesizes a fresh
// room, marks the consultation IN_PROGRESS, starts the session's watchdog
// and returns a credential for the initiator plus the display configuration.
func (m *Manager) CreateSession(ctx context.Context, consultationID, userID string, role types.Role) (string, string, *types.SessionConfig, error) {
	if !types.IsValidConsultationID(consultationID) {
		return "", "", nil, types.ErrInvalidConsultationID
	}
	if !types.IsValidUserID(userID) {
		return "", "", nil, types.ErrInvalidUserID
	}
	if !role.IsValid() {
		return "", "", nil, types.ErrInvalidRole
	}

	rec, err := m.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		return "", "", nil, err
	}
	if rec.Status == types.ConsultationCompleted {
		return "", "", nil, ErrConsultationCompleted
	}

	startedAt := m.now().UTC()
	roomID := uuid.New().String()
	session := &types.Session{
		RoomID:         roomID,
		ConsultationID: consultationID,
		StartTime:      startedAt,
	}

	if rec.Status == types.ConsultationScheduled {
		if err := m.consultations.MarkInProgress(ctx, consultationID, startedAt); err != nil {
			return "", "", nil, fmt.Errorf("failed to mark consultation in progress: %w", err)
		}
	}

	token, err := m.issuer.Issue(roomID, userID, role, consultationID)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to issue credential: %w", err)
	}

	ls := &liveSession{session: session}
	m.mu.Lock()
	m.sessions[roomID] = ls
	m.mu.Unlock()

	if m.watcher != nil {
		ls.mu.Lock()
		ls.cancelWatch = m.watcher.Watch(roomID)
		ls.mu.Unlock()
	}

	cfg := &types.SessionConfig{
		RoomID:             roomID,
		DisplayName:        displayName(rec, role),
		MaxDurationMinutes: int(m.policy.MaxSessionDuration / time.Minute),
		ChatEnabled:        true,
		ScreenShareEnabled: true,
	}

	m.log.WithFields(logrus.Fields{
		"room_id":         roomID,
		"consultation_id": consultationID,
		"role":            role,
	}).Info("session created")

	return roomID, token, cfg, nil
}

// displayName names the counterpart the initiator is meeting.
func displayName(rec *types.ConsultationRecord, initiator types.Role) string {
	if initiator == types.RoleClient {
		return rec.ExpertID
	}
	return rec.ClientID
}

// Join appends a fresh presence interval for the user. A repeat join is a
// reconnect: each reconnect is its own measured interval, so no uniqueness
// is enforced. Unknown rooms are absorbed to tolerate races with
// termination.
func (m *Manager) Join(roomID, userID string, role types.Role) error {
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidUserID
	}
	if !role.IsValid() {
		return types.ErrInvalidRole
	}

	ls, ok := m.lookup(roomID)
	if !ok {
		m.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Debug("join for unknown session ignored")
		return nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ended {
		return nil
	}

	ls.session.Participants = append(ls.session.Participants, types.Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: m.now().UTC(),
	})

	m.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "role": role}).Info("participant joined")
	return nil
}

// Leave closes the newest open presence interval for the user. A leave with
// no open interval is a no-op; disconnect notifications race with
// termination.
func (m *Manager) Leave(roomID, userID string) error {
	ls, ok := m.lookup(roomID)
	if !ok {
		m.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Debug("leave for unknown session ignored")
		return nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ended {
		return nil
	}

	leftAt := m.now().UTC()
	for i := len(ls.session.Participants) - 1; i >= 0; i-- {
		p := &ls.session.Participants[i]
		if p.UserID != userID || !p.Open() {
			continue
		}
		p.LeftAt = &leftAt
		p.ConnectionMinutes = int(leftAt.Sub(p.JoinedAt) / time.Minute)
		m.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "connection_minutes": p.ConnectionMinutes}).Info("participant left")
		return nil
	}
	return nil
}

// EndSession terminates the session, reconciles billing and persists the
// outcome. Idempotent: a repeat call (or a call racing a forced end)
// observes the prior result instead of recomputing.
func (m *Manager) EndSession(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error) {
	return m.terminate(ctx, roomID, consultationID, types.EndReasonCompleted, false)
}

// ForceEndSession marks every still-open participant as departed so the
// reconciler has complete presence data, then terminates with the given
// reason. Called by the session monitor; a room already gone is a no-op.
func (m *Manager) ForceEndSession(ctx context.Context, roomID string, reason types.EndReason) error {
	ls, ok := m.lookup(roomID)
	if !ok {
		return nil
	}
	_, err := m.terminate(ctx, roomID, ls.session.ConsultationID, reason, true)
	return err
}

// terminate is the single termination path for both caller-initiated and
// forced ends. The per-session lock guarantees at most one concurrent
// terminator performs reconciliation and external side effects.
func (m *Manager) terminate(ctx context.Context, roomID, consultationID string, reason types.EndReason, closeOpen bool) (*types.ReconciliationResult, error) {
	ls, ok := m.lookup(roomID)
	if !ok {
		return m.resolveEnded(ctx, roomID, consultationID)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.ended {
		replay := *ls.result
		replay.AlreadyEnded = true
		return &replay, nil
	}
	if consultationID != ls.session.ConsultationID {
		return nil, ErrConsultationMismatch
	}

	rec, err := m.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	endedAt := m.now().UTC()
	if closeOpen {
		for i := range ls.session.Participants {
			p := &ls.session.Participants[i]
			if !p.Open() {
				continue
			}
			left := endedAt
			p.LeftAt = &left
			p.ConnectionMinutes = int(left.Sub(p.JoinedAt) / time.Minute)
		}
	}
	ls.session.EndTime = &endedAt

	actual := billing.OverlapMinutes(ls.session, endedAt)
	outcome := billing.Reconcile(actual, m.policy.MinimumBillableMinutes, rec.HourlyRateCents, rec.OriginalAmountCents)
	ls.session.ActualMinutes = outcome.ActualMinutes

	result := &types.ReconciliationResult{
		RoomID:           roomID,
		ConsultationID:   consultationID,
		Reason:           reason,
		EndedAt:          endedAt,
		ActualMinutes:    outcome.ActualMinutes,
		BilledMinutes:    outcome.BilledMinutes,
		FinalAmountCents: outcome.FinalAmountCents,
		RefundCents:      outcome.RefundCents,
	}
	ls.ended = true
	ls.result = result

	// Stop the watchdog before any further work so no tick can race the
	// cleanup below.
	if ls.cancelWatch != nil {
		ls.cancelWatch()
		ls.cancelWatch = nil
	}

	log := m.log.WithFields(logrus.Fields{
		"room_id":         roomID,
		"consultation_id": consultationID,
		"reason":          reason,
		"actual_minutes":  outcome.ActualMinutes,
		"billed_minutes":  outcome.BilledMinutes,
		"final_cents":     outcome.FinalAmountCents,
		"refund_cents":    outcome.RefundCents,
	})

	// The session's terminal state is settled above; downstream failures are
	// logged and never re-open it.
	if err := m.consultations.CompleteConsultation(ctx, consultationID, interfaces.ConsultationCompletion{
		EndedAt:          endedAt,
		ActualMinutes:    outcome.ActualMinutes,
		FinalAmountCents: outcome.FinalAmountCents,
		RefundCents:      outcome.RefundCents,
	}); err != nil {
		log.WithError(err).Error("failed to persist consultation completion")
	}

	if m.archive != nil {
		if err := m.archive.ArchiveSession(ctx, ls.session, result); err != nil {
			log.WithError(err).Error("failed to archive session")
		}
	}

	if outcome.RefundCents > 0 && m.payments != nil {
		if err := m.payments.Refund(ctx, rec.PaymentID, outcome.RefundCents); err != nil {
			log.WithError(err).Error("refund failed, queueing for retry")
			m.enqueueRefundRetry(rec, result, err)
		}
	}

	if m.stats != nil {
		if err := m.stats.RecordCompletion(ctx, rec.ExpertID, outcome.ActualMinutes, outcome.FinalAmountCents); err != nil {
			log.WithError(err).Error("failed to update expert stats")
		}
	}

	m.mu.Lock()
	delete(m.sessions, roomID)
	m.mu.Unlock()

	log.Info("session ended")
	return result, nil
}

// enqueueRefundRetry hands a failed refund to the out-of-band retry queue.
func (m *Manager) enqueueRefundRetry(rec *types.ConsultationRecord, result *types.ReconciliationResult, cause error) {
	if m.refunds == nil {
		return
	}
	retry := interfaces.RefundRetry{
		RoomID:         result.RoomID,
		ConsultationID: result.ConsultationID,
		PaymentID:      rec.PaymentID,
		AmountCents:    result.RefundCents,
		Reason:         cause.Error(),
	}
	if err := m.refunds.EnqueueRefund(retry); err != nil {
		m.log.WithError(err).WithField("payment_id", rec.PaymentID).Error("failed to enqueue refund retry")
	}
}

// resolveEnded handles termination of a room no longer in the registry. A
// COMPLETED consultation yields the stored outcome as an already-ended
// result; a record that was never completed yields an empty already-ended
// result so racing callers see a defined outcome instead of an error.
func (m *Manager) resolveEnded(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error) {
	rec, err := m.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	result := &types.ReconciliationResult{
		RoomID:         roomID,
		ConsultationID: consultationID,
		AlreadyEnded:   true,
	}
	if rec.Status == types.ConsultationCompleted {
		if rec.EndedAt != nil {
			result.EndedAt = *rec.EndedAt
		}
		result.ActualMinutes = rec.ActualMinutes
		result.BilledMinutes = rec.ActualMinutes
		if m.policy.MinimumBillableMinutes > result.BilledMinutes {
			result.BilledMinutes = m.policy.MinimumBillableMinutes
		}
		result.FinalAmountCents = rec.FinalAmountCents
		result.RefundCents = rec.RefundCents
	}
	return result, nil
}

// ListActiveSessions returns snapshots of all live sessions, for operational
// monitoring and admin tooling.
func (m *Manager) ListActiveSessions() []*types.Session {
	m.mu.RLock()
	live := make([]*liveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		live = append(live, ls)
	}
	m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(live))
	for _, ls := range live {
		ls.mu.Lock()
		sessions = append(sessions, ls.session.Clone())
		ls.mu.Unlock()
	}
	return sessions
}

// SessionSnapshot returns a copy of one live session.
func (m *Manager) SessionSnapshot(roomID string) (*types.Session, bool) {
	ls, ok := m.lookup(roomID)
	if !ok {
		return nil, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ended {
		return nil, false
	}
	return ls.session.Clone(), true
}

// Shutdown cancels every outstanding watchdog without ending the sessions.
// Called once at process teardown.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	live := make([]*liveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		live = append(live, ls)
	}
	m.mu.RUnlock()

	for _, ls := range live {
		ls.mu.Lock()
		if ls.cancelWatch != nil {
			ls.cancelWatch()
			ls.cancelWatch = nil
		}
		ls.mu.Unlock()
	}
}

// lookup fetches a live session without holding the registry lock longer
// than the map read.
func (m *Manager) lookup(roomID string) (*liveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.sessions[roomID]
	return ls, ok
}
