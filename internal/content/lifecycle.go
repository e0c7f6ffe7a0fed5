package content

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrScheduleInPast    = errors.New("scheduled time must be in the future")
	ErrUnknownStatus     = errors.New("unknown status")
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPublished, StatusScheduled, StatusArchived},
	StatusScheduled: {StatusPublished, StatusDraft},
	StatusPublished: {StatusArchived, StatusDraft},
	StatusArchived:  {StatusDraft, StatusPublished},
}

func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// Allowed lists the statuses reachable from the given one.
func Allowed(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// Transition validates a status change. Rescheduling an already scheduled
// article is treated as a valid edge so the publish time can be moved.
func Transition(from, to Status, scheduledAt *time.Time, now time.Time) error {
	if _, ok := transitions[from]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if _, ok := transitions[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if to == StatusScheduled {
		if scheduledAt == nil || !scheduledAt.After(now) {
			return ErrScheduleInPast
		}
		if from == StatusScheduled {
			return nil
		}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Timestamps are the lifecycle columns of an article.
type Timestamps struct {
	ScheduledAt *time.Time
	PublishedAt *time.Time
	ArchivedAt  *time.Time
}

// ApplyTransition validates the change and returns the lifecycle columns the
// article should carry afterwards.
func ApplyTransition(from, to Status, current Timestamps, scheduledAt *time.Time, now time.Time) (Timestamps, error) {
	if err := Transition(from, to, scheduledAt, now); err != nil {
		return Timestamps{}, err
	}
	next := current
	switch to {
	case StatusPublished:
		if next.PublishedAt == nil {
			at := now
			next.PublishedAt = &at
		}
		next.ScheduledAt = nil
		next.ArchivedAt = nil
	case StatusScheduled:
		at := *scheduledAt
		next.ScheduledAt = &at
		next.ArchivedAt = nil
	case StatusArchived:
		at := now
		next.ArchivedAt = &at
		next.ScheduledAt = nil
	case StatusDraft:
		next.ScheduledAt = nil
		next.ArchivedAt = nil
	}
	return next, nil
}
