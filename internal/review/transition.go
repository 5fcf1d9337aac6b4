// Package review holds the review lifecycle: status transitions, the
// client-side decision cache and its reconciliation with the server, and the
// assembly of the review queue.
package review

import (
	"fmt"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Actor is who requests a status change.
type Actor string

const (
	// ActorReviewer is a human decision, posted or replayed.
	ActorReviewer Actor = "reviewer"
	// ActorIngest is the automated scoring path.
	ActorIngest Actor = "ingest"
)

// ParseVerdict parses a status a reviewer may post: queued, approved or
// rejected. New is reserved for ingestion and published for the publish step.
func ParseVerdict(s string) (motion.Status, error) {
	st, err := motion.ParseStatus(s)
	if err != nil {
		return "", err
	}
	switch st {
	case motion.StatusQueued, motion.StatusApproved, motion.StatusRejected:
		return st, nil
	}
	return "", apperrors.Validation("status %q cannot be set by a reviewer", st)
}

// Transition validates a status change.
//
// Reviewers may queue, approve or reject from any state; publishing
// requires an approved item. Ingestion may only move between new, queued
// and rejected and never touches an approved or published item.
func Transition(from, to motion.Status, actor Actor) error {
	if !to.Valid() {
		return apperrors.Validation("unknown status %q", to)
	}
	if from == "" {
		from = motion.StatusNew
	}
	if from == to {
		return nil
	}

	switch actor {
	case ActorReviewer:
		switch to {
		case motion.StatusQueued, motion.StatusApproved, motion.StatusRejected:
			return nil
		case motion.StatusPublished:
			if from == motion.StatusApproved {
				return nil
			}
		}
	case ActorIngest:
		if from.Protected() {
			break
		}
		switch to {
		case motion.StatusNew, motion.StatusQueued, motion.StatusRejected:
			return nil
		}
	default:
		return apperrors.Validation("unknown actor %q", actor)
	}
	return fmt.Errorf("%w: %s -> %s by %s", apperrors.ErrInvalidTransition, from, to, actor)
}
