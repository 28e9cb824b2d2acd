package interfaces

import (
	"context"
	"time"

	"greenroom/pkg/types"
)

// ConsultationCompletion carries the reconciled outcome written back to a
// consultation record when its session ends.
type ConsultationCompletion struct {
	EndedAt          time.Time
	ActualMinutes    int
	FinalAmountCents int64
	RefundCents      int64
}

// ConsultationStore reads and transitions durable consultation records.
type ConsultationStore interface {
	// GetConsultation returns the record or ErrConsultationNotFound.
	GetConsultation(ctx context.Context, consultationID string) (*types.ConsultationRecord, error)

	// MarkInProgress transitions SCHEDULED -> IN_PROGRESS and stamps the
	// actual start time.
	MarkInProgress(ctx context.Context, consultationID string, startedAt time.Time) error

	// CompleteConsultation transitions to COMPLETED exactly once, carrying
	// the reconciled amounts.
	CompleteConsultation(ctx context.Context, consultationID string, outcome ConsultationCompletion) error
}

// SessionArchive persists ended sessions for audit.
type SessionArchive interface {
	ArchiveSession(ctx context.Context, session *types.Session, result *types.ReconciliationResult) error
}

// StatsRecorder accumulates per-expert completion aggregates.
type StatsRecorder interface {
	RecordCompletion(ctx context.Context, expertID string, minutes int, earningsCents int64) error
	GetExpertStats(ctx context.Context, expertID string) (*types.ExpertStats, error)
}
