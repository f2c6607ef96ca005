package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the dispatcher will never touch the record again
// without external intervention.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// pending moves forward through a claim, or straight to skipped when the
// blank-recipient screen rules out delivery; in_progress resolves to a
// terminal state or back to pending (retry or stale-claim release).
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusSkipped
	case StatusInProgress:
		return next == StatusSent || next == StatusFailed || next == StatusSkipped || next == StatusPending
	case StatusSent, StatusFailed, StatusSkipped:
		return false
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Notification is a single outbox record. It is created externally in pending
// state; the dispatcher only ever mutates status, error, sent time, and the
// retry bookkeeping fields.
type Notification struct {
	ID            string
	Recipient     string
	Title         string
	Message       string
	Status        Status
	LastError     *string
	SentAt        *time.Time
	AttemptCount  int
	NextAttemptAt *time.Time
	ClaimedAt     *time.Time
	CreatedAt     time.Time
}

// HasRecipient reports whether the record carries a deliverable address.
// The store only filters out NULL recipients; whitespace-only strings are
// screened here.
func (n *Notification) HasRecipient() bool {
	return strings.TrimSpace(n.Recipient) != ""
}
