package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"greenroom/pkg/interfaces"
	"greenroom/pkg/types"
)

// Config holds the watchdog caps and cadence.
type Config struct {
	// Interval is the fixed check cadence per session.
	Interval time.Duration
	// MaxSessionDuration is the hard session-length cap.
	MaxSessionDuration time.Duration
	// InactivityWindow is the abandonment cap: a session with no open
	// presence interval and no departure within this window is force-ended.
	InactivityWindow time.Duration
}

// Monitor implements interfaces.SessionWatcher: one schedulable task per
// live session, each on its own ticker so sessions are independent. A task
// is cancelled exactly once when its session ends; a task whose session is
// already gone from the registry self-cancels on its next tick.
type Monitor struct {
	cfg    Config
	target interfaces.SessionRegistry
	log    *logrus.Entry
	now    func() time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Bind must be called before Watch.
func New(cfg Config, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	root, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		root:   root,
		cancel: cancel,
	}
}

// Bind attaches the registry the monitor enforces caps through. Late-bound:
// the registry needs the monitor at session creation and the monitor needs
// the registry at every tick.
func (m *Monitor) Bind(target interfaces.SessionRegistry) {
	m.target = target
}

// WithClock overrides the monitor's time source. Used in tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Watch starts the watchdog task for one session. The returned cancel stops
// scheduling further ticks and is safe to call more than once.
func (m *Monitor) Watch(roomID string) func() {
	ctx, cancel := context.WithCancel(m.root)
	m.wg.Add(1)
	go m.run(ctx, roomID)
	return cancel
}

// Shutdown cancels all outstanding watchdog tasks and waits for them to
// stop.
func (m *Monitor) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, roomID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.check(ctx, roomID) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// check evaluates the two termination conditions and reports whether the
// task is done.
func (m *Monitor) check(ctx context.Context, roomID string) bool {
	session, ok := m.target.SessionSnapshot(roomID)
	if !ok {
		// Session already removed; the cancel raced the tick.
		return true
	}

	now := m.now().UTC()

	if now.Sub(session.StartTime) > m.cfg.MaxSessionDuration {
		m.forceEnd(ctx, roomID, types.EndReasonTimeout)
		return true
	}

	if !session.HasOpenParticipant() && now.Sub(session.LastDeparture()) > m.cfg.InactivityWindow {
		m.forceEnd(ctx, roomID, types.EndReasonNoParticipants)
		return true
	}

	return false
}

func (m *Monitor) forceEnd(ctx context.Context, roomID string, reason types.EndReason) {
	m.log.WithFields(logrus.Fields{"room_id": roomID, "reason": reason}).Warn("force ending session")
	if err := m.target.ForceEndSession(ctx, roomID, reason); err != nil {
		m.log.WithError(err).WithField("room_id", roomID).Error("forced end failed")
	}
}
