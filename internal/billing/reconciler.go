package billing

import (
	"time"

	"greenroom/pkg/types"
)

// Outcome is a reconciled billing computation.
type Outcome struct {
	ActualMinutes    int
	BilledMinutes    int
	FinalAmountCents int64
	RefundCents      int64
}

// OverlapMinutes derives the actual billable duration from a session's
// presence intervals: the intersection of the expert's and the client's
// combined presence windows, clamped to zero. An interval still open at
// termination extends to endedAt. If either role never appears the overlap
// is zero.
func OverlapMinutes(session *types.Session, endedAt time.Time) int {
	expertStart, expertEnd, expertSeen := roleWindow(session, types.RoleExpert, endedAt)
	clientStart, clientEnd, clientSeen := roleWindow(session, types.RoleClient, endedAt)
	if !expertSeen || !clientSeen {
		return 0
	}

	start := expertStart
	if clientStart.After(start) {
		start = clientStart
	}
	end := expertEnd
	if clientEnd.Before(end) {
		end = clientEnd
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

// roleWindow returns [first join, last leave-or-endedAt] for one role.
func roleWindow(session *types.Session, role types.Role, endedAt time.Time) (start, end time.Time, seen bool) {
	for i := range session.Participants {
		p := &session.Participants[i]
		if p.Role != role {
			continue
		}
		left := endedAt
		if p.LeftAt != nil {
			left = *p.LeftAt
		}
		if !seen {
			start, end, seen = p.JoinedAt, left, true
			continue
		}
		if p.JoinedAt.Before(start) {
			start = p.JoinedAt
		}
		if left.After(end) {
			end = left
		}
	}
	return start, end, seen
}

// Reconcile computes the final charge and refund for a session. The billed
// minutes are floored at floorMinutes (cancellation-fee policy, deliberate).
// The charge is capped at the original amount: overruns do not bill extra,
// so the refund is never negative.
func Reconcile(actualMinutes, floorMinutes int, hourlyRateCents, originalAmountCents int64) Outcome {
	billed := actualMinutes
	if billed < floorMinutes {
		billed = floorMinutes
	}

	// Round half up to whole cents.
	amount := (int64(billed)*hourlyRateCents + 30) / 60
	if amount > originalAmountCents {
		amount = originalAmountCents
	}
	if amount < 0 {
		amount = 0
	}

	refund := originalAmountCents - amount
	if refund < 0 {
		refund = 0
	}

	return Outcome{
		ActualMinutes:    actualMinutes,
		BilledMinutes:    billed,
		FinalAmountCents: amount,
		RefundCents:      refund,
	}
}
