// Package exceptions implements the exception queue (C6, spec §4.6): the
// prioritized worklist of invoices that failed to auto-match and need a
// human decision.
//
// Queue wraps store.ExceptionRepo the way the teacher's InvestigationManager
// (internal/heuristics/investigation.go) wraps its case map: a thin
// CRUD-plus-lifecycle layer in front of storage, with the lifecycle
// transitions (claim, decide) expressed as named methods rather than a
// generic "update" call.
package exceptions

import (
	"context"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("exceptions")

// Decision is the outcome a reviewer records against an ExceptionEntry
// (spec §4.6 decide contract).
type Decision string

const (
	DecisionApprove   Decision = "approve"
	DecisionRejectAll Decision = "reject_all"
	DecisionDefer     Decision = "defer"
)

// Queue is the C6 business-logic layer.
type Queue struct {
	st store.Store
}

// New builds a Queue bound to the given store.
func New(st store.Store) *Queue {
	return &Queue{st: st}
}

// Enqueue implements the §4.6 enqueue contract: idempotent by
// (invoice_id, open-status). If an open entry already exists for the
// invoice, it is returned unchanged rather than duplicated.
func (q *Queue) Enqueue(ctx context.Context, sess store.Session, invoiceID models.InvoiceID, reason models.ExceptionReason, suggested []models.MatchResultID, priority models.ExceptionPriority) (*models.ExceptionEntry, error) {
	existing, err := sess.ExceptionEntries().GetOpenForInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	entry := &models.ExceptionEntry{
		TenantID:         sess.TenantID(),
		InvoiceID:        invoiceID,
		Reason:           reason,
		Priority:         priority,
		SuggestedMatches: suggested,
		Status:           models.ExceptionOpen,
	}
	if err := sess.ExceptionEntries().Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List implements the §4.6 list contract, delegating filter/sort/paginate
// to the store.
func (q *Queue) List(ctx context.Context, sess store.Session, filter store.ListFilter) (store.Page[*models.ExceptionEntry], error) {
	filter.Normalize()
	return sess.ExceptionEntries().List(ctx, filter)
}

// Claim implements §4.6's claim contract: sets the assignee and transitions
// open -> in_review, failing with a conflict if the entry is no longer open
// (already claimed, resolved or dismissed).
func (q *Queue) Claim(ctx context.Context, sess store.Session, id models.ExceptionID, expectedVersion int64, user string) error {
	current, err := sess.ExceptionEntries().Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != models.ExceptionOpen {
		return apperrors.Conflict("exception entry is not open and cannot be claimed")
	}
	return sess.ExceptionEntries().CompareAndSet(ctx, id, expectedVersion, func(e *models.ExceptionEntry) {
		if e.Status != models.ExceptionOpen {
			return
		}
		e.Status = models.ExceptionInReview
		e.AssignedTo = user
		e.UpdatedAt = now()
	})
}

// Decide implements §4.6's decide contract. On approve, the chosen
// MatchResult is flipped to approved and every other pending MatchResult
// for the invoice is superseded (mirroring the exact supersession rule the
// matching engine itself would apply on a re-run); the invoice transitions
// to manually_matched. reject_all also moves the invoice from
// requires_review to unmatchable; defer only updates the exception entry,
// which returns to open. A version mismatch on the underlying CompareAndSet surfaces as a
// apperrors.KindConflict error, per the §4.6 failure-semantics contract.
func (q *Queue) Decide(ctx context.Context, sess store.Session, id models.ExceptionID, expectedVersion int64, user string, decision Decision, matchID models.MatchResultID, deferUntil time.Time, notes string) error {
	entry, err := sess.ExceptionEntries().Get(ctx, id)
	if err != nil {
		return err
	}

	switch decision {
	case DecisionApprove:
		if matchID == "" {
			return apperrors.Validation("match_id", "required", "match_id is required for an approve decision")
		}
		if err := q.approveMatch(ctx, sess, entry.InvoiceID, matchID, user); err != nil {
			return err
		}
	case DecisionRejectAll:
		if err := sess.Invoices().UpdateMatchingStatus(ctx, entry.InvoiceID, models.MatchingRequiresReview, models.MatchingUnmatchable); err != nil {
			return err
		}
	case DecisionDefer:
		// Deferral only changes the exception record below; the invoice
		// stays in requires_review until a future decide call.
	default:
		return apperrors.Validation("decision", "invalid", "decision must be approve, reject_all, or defer")
	}

	return sess.ExceptionEntries().CompareAndSet(ctx, id, expectedVersion, func(e *models.ExceptionEntry) {
		e.Status = resolvedStatus(decision)
		e.ResolutionNotes = notes
		e.UpdatedAt = now()
		_ = deferUntil // not stored; a deferred entry simply goes back to open
	})
}

func resolvedStatus(d Decision) models.ExceptionStatus {
	if d == DecisionDefer {
		return models.ExceptionOpen
	}
	return models.ExceptionResolved
}

// approveMatch flips matchID to approved and supersedes every other pending
// MatchResult for the invoice, then transitions the invoice to
// manually_matched.
func (q *Queue) approveMatch(ctx context.Context, sess store.Session, invoiceID models.InvoiceID, matchID models.MatchResultID, user string) error {
	results, err := sess.MatchResults().ForInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	var chosen *models.MatchResult
	for _, r := range results {
		if r.ID == matchID {
			chosen = r
			break
		}
	}
	if chosen == nil {
		return apperrors.NotFound("match_result", string(matchID))
	}

	if err := sess.MatchResults().CompareAndSetStatus(ctx, matchID, chosen.Version, models.MatchStatusApproved); err != nil {
		return err
	}
	if err := sess.MatchResults().SupersedeAllPending(ctx, invoiceID, matchID); err != nil {
		return err
	}

	log.WithField("invoice_id", invoiceID).WithField("match_id", matchID).WithField("user", user).Info("exception resolved via manual match approval")
	return sess.Invoices().UpdateMatchingStatus(ctx, invoiceID, models.MatchingRequiresReview, models.MatchingManuallyMatched)
}

func now() time.Time { return time.Now() }
