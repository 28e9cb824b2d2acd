package types

import (
	"time"
)

// Role identifies which side of a consultation a participant is on.
// Exactly two roles are expected per session.
type Role string

const (
	RoleExpert Role = "expert"
	RoleClient Role = "client"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	return r == RoleExpert || r == RoleClient
}

// EndReason is the closed set of session termination causes.
type EndReason string

const (
	// EndReasonCompleted is a caller-initiated end.
	EndReasonCompleted EndReason = "completed"
	// EndReasonTimeout is a forced end after the hard session-length cap.
	EndReasonTimeout EndReason = "timeout"
	// EndReasonNoParticipants is a forced end after the inactivity window
	// passed with nobody connected.
	EndReasonNoParticipants EndReason = "no active participants"
)

// Participant records a single presence interval. A reconnect appends a new
// Participant record rather than reopening this one.
type Participant struct {
	UserID            string     `json:"user_id"`
	Role              Role       `json:"role"`
	JoinedAt          time.Time  `json:"joined_at"`
	LeftAt            *time.Time `json:"left_at,omitempty"`
	ConnectionMinutes int        `json:"connection_minutes"`
}

// Open reports whether the participant is still connected.
func (p *Participant) Open() bool {
	return p.LeftAt == nil
}

// Session is the in-memory state of a live consultation session.
// Participants is append-only; a departure closes the newest open record for
// the user, it never removes entries.
type Session struct {
	RoomID         string        `json:"room_id"`
	ConsultationID string        `json:"consultation_id"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Participants   []Participant `json:"participants"`
	ActualMinutes  int           `json:"actual_minutes"`
}

// HasOpenParticipant reports whether any presence interval is still open.
func (s *Session) HasOpenParticipant() bool {
	for i := range s.Participants {
		if s.Participants[i].Open() {
			return true
		}
	}
	return false
}

// LastDeparture returns the latest LeftAt across all participants, or the
// session start time when nobody has joined and left yet.
func (s *Session) LastDeparture() time.Time {
	last := s.StartTime
	for i := range s.Participants {
		if left := s.Participants[i].LeftAt; left != nil && left.After(last) {
			last = *left
		}
	}
	return last
}

// Clone returns a deep copy, safe to hand outside the registry's lock.
func (s *Session) Clone() *Session {
	copied := *s
	if s.EndTime != nil {
		end := *s.EndTime
		copied.EndTime = &end
	}
	copied.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		if p.LeftAt != nil {
			left := *p.LeftAt
			p.LeftAt = &left
		}
		copied.Participants[i] = p
	}
	return &copied
}

// ConsultationStatus tracks the booking record lifecycle.
type ConsultationStatus string

const (
	ConsultationScheduled  ConsultationStatus = "SCHEDULED"
	ConsultationInProgress ConsultationStatus = "IN_PROGRESS"
	ConsultationCompleted  ConsultationStatus = "COMPLETED"
)

// ConsultationRecord is the durable booking record a session reconciles
// against. Monetary values are integer cents.
type ConsultationRecord struct {
	ID                  string             `json:"id" db:"id"`
	ExpertID            string             `json:"expert_id" db:"expert_id"`
	ClientID            string             `json:"client_id" db:"client_id"`
	BookedMinutes       int                `json:"booked_minutes" db:"booked_minutes"`
	HourlyRateCents     int64              `json:"hourly_rate_cents" db:"hourly_rate_cents"`
	OriginalAmountCents int64              `json:"original_amount_cents" db:"original_amount_cents"`
	PaymentID           string             `json:"payment_id" db:"payment_id"`
	Status              ConsultationStatus `json:"status" db:"status"`
	ScheduledStart      *time.Time         `json:"scheduled_start,omitempty" db:"scheduled_start"`
	StartedAt           *time.Time         `json:"started_at,omitempty" db:"started_at"`
	EndedAt             *time.Time         `json:"ended_at,omitempty" db:"ended_at"`
	ActualMinutes       int                `json:"actual_minutes" db:"actual_minutes"`
	FinalAmountCents    int64              `json:"final_amount_cents" db:"final_amount_cents"`
	RefundCents         int64              `json:"refund_cents" db:"refund_cents"`
}

// ReconciliationResult is the outcome of a session termination.
type ReconciliationResult struct {
	RoomID           string    `json:"room_id"`
	ConsultationID   string    `json:"consultation_id"`
	Reason           EndReason `json:"reason"`
	EndedAt          time.Time `json:"ended_at"`
	ActualMinutes    int       `json:"actual_minutes"`
	BilledMinutes    int       `json:"billed_minutes"`
	FinalAmountCents int64     `json:"final_amount_cents"`
	RefundCents      int64     `json:"refund_cents"`
	// AlreadyEnded marks an idempotent replay: the session was terminated
	// earlier and this result was resolved from the stored outcome.
	AlreadyEnded bool `json:"already_ended,omitempty"`
}

// SessionConfig is the display configuration handed to the initiating client.
type SessionConfig struct {
	RoomID             string `json:"room_id"`
	DisplayName        string `json:"display_name"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
	ChatEnabled        bool   `json:"chat_enabled"`
	ScreenShareEnabled bool   `json:"screen_share_enabled"`
}

// ExpertStats is a per-expert completion aggregate.
type ExpertStats struct {
	ExpertID           string `json:"expert_id" db:"expert_id"`
	SessionsCompleted  int64  `json:"sessions_completed" db:"sessions_completed"`
	MinutesDelivered   int64  `json:"minutes_delivered" db:"minutes_delivered"`
	TotalEarningsCents int64  `json:"total_earnings_cents" db:"total_earnings_cents"`
}
