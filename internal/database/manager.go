package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"greenroom/pkg/interfaces"
	"greenroom/pkg/types"

	dbconfig "greenroom/pkg/database"
)

// Manager is the durable store for consultation records, the ended-session
// archive and expert statistics. All writes funnel through a single-writer
// goroutine; SQLite in WAL mode keeps reads concurrent.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	log          *logrus.Entry
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the write loop.
func NewManager(config *dbconfig.Config, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		log:          log,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. A failed
// write is retried once after a short backoff; missing-record errors are not
// transient and skip the retry.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !errors.Is(err, interfaces.ErrConsultationNotFound) {
				m.log.WithError(err).Warn("database write failed, retrying in 5 seconds")
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					m.log.WithError(err).Error("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateConsultation inserts a new booking record. Used by the booking flow
// and by operational tooling; the session core only reads and transitions
// records.
func (m *Manager) CreateConsultation(ctx context.Context, rec *types.ConsultationRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO consultations (
				id, expert_id, client_id, booked_minutes, hourly_rate_cents,
				original_amount_cents, payment_id, status, scheduled_start
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			rec.ID,
			rec.ExpertID,
			rec.ClientID,
			rec.BookedMinutes,
			rec.HourlyRateCents,
			rec.OriginalAmountCents,
			rec.PaymentID,
			string(rec.Status),
			rec.ScheduledStart,
		)
		if err != nil {
			return fmt.Errorf("failed to insert consultation: %w", err)
		}
		return nil
	})
}

// GetConsultation returns the booking record or ErrConsultationNotFound.
func (m *Manager) GetConsultation(ctx context.Context, consultationID string) (*types.ConsultationRecord, error) {
	query := `
		SELECT id, expert_id, client_id, booked_minutes, hourly_rate_cents,
		       original_amount_cents, payment_id, status, scheduled_start,
		       started_at, ended_at, actual_minutes, final_amount_cents, refund_cents
		FROM consultations WHERE id = ?
	`

	rec := &types.ConsultationRecord{}
	var status string
	err := m.db.QueryRowContext(ctx, query, consultationID).Scan(
		&rec.ID,
		&rec.ExpertID,
		&rec.ClientID,
		&rec.BookedMinutes,
		&rec.HourlyRateCents,
		&rec.OriginalAmountCents,
		&rec.PaymentID,
		&status,
		&rec.ScheduledStart,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.ActualMinutes,
		&rec.FinalAmountCents,
		&rec.RefundCents,
	)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrConsultationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query consultation: %w", err)
	}
	rec.Status = types.ConsultationStatus(status)
	return rec, nil
}

// MarkInProgress transitions SCHEDULED -> IN_PROGRESS. Already-started
// records are left untouched.
func (m *Manager) MarkInProgress(ctx context.Context, consultationID string, startedAt time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE consultations SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(types.ConsultationInProgress), startedAt, consultationID, string(types.ConsultationScheduled),
		)
		if err != nil {
			return fmt.Errorf("failed to mark consultation in progress: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return m.requireExists(ctx, db, consultationID)
		}
		return nil
	})
}

// CompleteConsultation transitions to COMPLETED exactly once, carrying the
// reconciled amounts. A repeat completion is a no-op so a racing terminator
// never overwrites the recorded outcome.
func (m *Manager) CompleteConsultation(ctx context.Context, consultationID string, outcome interfaces.ConsultationCompletion) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE consultations
			 SET status = ?, ended_at = ?, actual_minutes = ?, final_amount_cents = ?, refund_cents = ?
			 WHERE id = ? AND status != ?`,
			string(types.ConsultationCompleted),
			outcome.EndedAt,
			outcome.ActualMinutes,
			outcome.FinalAmountCents,
			outcome.RefundCents,
			consultationID,
			string(types.ConsultationCompleted),
		)
		if err != nil {
			return fmt.Errorf("failed to complete consultation: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return m.requireExists(ctx, db, consultationID)
		}
		return nil
	})
}

// requireExists distinguishes "no matching row" caused by a missing record
// from one caused by a status guard.
func (m *Manager) requireExists(ctx context.Context, db *sql.DB, consultationID string) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consultations WHERE id = ?`, consultationID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return interfaces.ErrConsultationNotFound
	}
	return nil
}

// ArchiveSession persists an ended session with its presence interval log.
func (m *Manager) ArchiveSession(ctx context.Context, session *types.Session, result *types.ReconciliationResult) error {
	return m.executeWrite(func(db *sql.DB) error {
		participants, err := json.Marshal(session.Participants)
		if err != nil {
			return fmt.Errorf("failed to marshal participants: %w", err)
		}

		query := `
			INSERT INTO sessions (room_id, consultation_id, start_time, end_time, end_reason, actual_minutes, participants)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.RoomID,
			session.ConsultationID,
			session.StartTime,
			session.EndTime,
			string(result.Reason),
			result.ActualMinutes,
			string(participants),
		)
		if err != nil {
			return fmt.Errorf("failed to archive session: %w", err)
		}
		return nil
	})
}

// RecordCompletion increments the expert's session count and accumulates
// delivered minutes and earnings.
func (m *Manager) RecordCompletion(ctx context.Context, expertID string, minutes int, earningsCents int64) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO expert_stats (expert_id, sessions_completed, minutes_delivered, total_earnings_cents)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(expert_id) DO UPDATE SET
				sessions_completed = sessions_completed + 1,
				minutes_delivered = minutes_delivered + excluded.minutes_delivered,
				total_earnings_cents = total_earnings_cents + excluded.total_earnings_cents
		`
		_, err := db.ExecContext(ctx, query, expertID, minutes, earningsCents)
		if err != nil {
			return fmt.Errorf("failed to record completion: %w", err)
		}
		return nil
	})
}

// GetExpertStats returns the expert's aggregate, zero-valued when the expert
// has no completions yet.
func (m *Manager) GetExpertStats(ctx context.Context, expertID string) (*types.ExpertStats, error) {
	stats := &types.ExpertStats{ExpertID: expertID}
	err := m.db.QueryRowContext(ctx,
		`SELECT sessions_completed, minutes_delivered, total_earnings_cents FROM expert_stats WHERE expert_id = ?`,
		expertID,
	).Scan(&stats.SessionsCompleted, &stats.MinutesDelivered, &stats.TotalEarningsCents)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query expert stats: %w", err)
	}
	return stats, nil
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// GetDB exposes the underlying handle for migrations and schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
