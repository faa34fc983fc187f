package agreement

import (
	"fmt"
	"strings"
	"time"
)

// allowedTransitions encodes the explicit lifecycle edges. Expiration is not
// listed here for normal actors: it is derived from the clock at read time
// (EffectiveStatus) and only persisted by the reconcile sweeper.
var allowedTransitions = map[Status][]Status{
	StatusNotStarted:  {StatusSent},
	StatusSent:        {StatusRedlined, StatusUnderReview, StatusSigned, StatusDeclined},
	StatusRedlined:    {StatusUnderReview, StatusSigned, StatusDeclined},
	StatusUnderReview: {StatusRedlined, StatusSigned, StatusDeclined},
	// Terminal for the round, but a fresh cycle may begin.
	StatusDeclined: {StatusSent},
	StatusExpired:  {StatusSent},
}

// CanTransition reports whether an explicit actor-driven transition from one
// status to another is permitted.
func CanTransition(from, to Status) bool {
	if to == StatusExpired {
		// Any non-terminal state, and signed, may lapse by time alone.
		return from == StatusSent || from == StatusRedlined ||
			from == StatusUnderReview || from == StatusSigned
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRequest carries everything an actor supplies when moving an
// agreement track to a new status.
type TransitionRequest struct {
	To           Status     `json:"to"`
	ActorID      string     `json:"actor_id"`
	ActorName    string     `json:"actor_name,omitempty"`
	SignedByID   string     `json:"signed_by_id,omitempty"`
	SignedByName string     `json:"signed_by_name,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        Scope      `json:"scope,omitempty"`
	DealID       string     `json:"deal_id,omitempty"`
	Source       Source     `json:"source,omitempty"`
	DocumentRef  string     `json:"document_ref,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// ApplyTransition validates and applies a status change to a track, returning
// the updated copy. It is pure: both the in-memory store and the Postgres
// store call it so the state machine lives in exactly one place.
func ApplyTransition(track Track, req TransitionRequest, now time.Time) (Track, error) {
	if req.To == "" {
		return Track{}, fmt.Errorf("%w: target status is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ActorID) == "" {
		return Track{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	from := track.Status
	if from == "" {
		from = StatusNotStarted
	}
	if !CanTransition(from, req.To) {
		return Track{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, req.To)
	}

	next := track
	next.Status = req.To

	if req.DocumentRef != "" {
		next.DocumentRefs = append(append([]string(nil), track.DocumentRefs...), req.DocumentRef)
	}
	if req.Notes != "" {
		next.RedlineNotes = req.Notes
	}
	if req.Source != "" {
		next.Source = req.Source
	}
	if req.Scope != "" {
		next.Scope = req.Scope
		next.DealID = req.DealID
	}

	switch req.To {
	case StatusSigned:
		if strings.TrimSpace(req.SignedByName) == "" {
			return Track{}, fmt.Errorf("%w: signer name is required for signed status", ErrInvalidInput)
		}
		signedAt := now.UTC()
		next.SignedAt = &signedAt
		next.SignedByID = req.SignedByID
		next.SignedByName = req.SignedByName
		next.ExpiresAt = req.ExpiresAt
	case StatusSent:
		// A fresh cycle clears the previous round's signing metadata.
		next.SignedAt = nil
		next.SignedByID = ""
		next.SignedByName = ""
		next.ExpiresAt = req.ExpiresAt
	}
	return next, nil
}

// EffectiveStatus derives the read-time status of a track: a stored status
// lapses to expired once its expiration passes, without requiring a write.
func EffectiveStatus(track Track, now time.Time) Status {
	status := track.Status
	if status == "" {
		return StatusNotStarted
	}
	if status == StatusDeclined || status == StatusNotStarted || status == StatusExpired {
		return status
	}
	if track.ExpiresAt != nil && !track.ExpiresAt.After(now) {
		return StatusExpired
	}
	return status
}

// CoveredAt reports whether a track establishes coverage at the given
// instant: signed and not yet expired.
func CoveredAt(track Track, now time.Time) bool {
	return track.Status == StatusSigned &&
		(track.ExpiresAt == nil || track.ExpiresAt.After(now))
}
