// Package matching implements the 3-way matching engine (C4, spec §4.4) —
// see also similarity.go, scoring.go, candidates.go, threeway.go, audit.go,
// and batch.go.
package matching

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/rules"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("matching")

// topCandidatesLimit bounds how many scored candidates are persisted as
// MatchResults when the best score does not clear auto-approve (§4.4.3:
// "produce MatchResults ... for the top 3 candidates").
const topCandidatesLimit = 3

// tieBreakEpsilon is the score-delta threshold below which two candidates
// are considered tied for tie-break and multiple-candidates purposes
// (§4.4.3).
const tieBreakEpsilon = 0.001

// closeScoresEpsilon is the threshold for the "top two scores differ by
// < 0.05" multiple_candidates exception reason (§4.4.3).
const closeScoresEpsilon = 0.05

// Engine runs the candidate-selection, scoring, and decision pipeline for
// one invoice at a time; MatchBatch (batch.go) fans this out across a
// worker pool.
type Engine struct {
	st       store.Store
	resolver *rules.Resolver
}

// New builds an Engine bound to the given store and rule resolver.
func New(st store.Store, resolver *rules.Resolver) *Engine {
	return &Engine{st: st, resolver: resolver}
}

// scored is one candidate after scoring, kept alongside the inputs needed
// to persist a MatchResult and to apply the tie-break ordering.
type scored struct {
	cand       candidate
	components models.ComponentScores
	score      float64
	dateDelta  int
	amountDiff float64
	exactRef   bool
}

// MatchInvoice implements §4.4.1/§4.4.3's decision policy for a single
// invoice: select candidates, score them, decide, and persist. actor
// identifies who/what triggered the run ("system" for automated runs).
func (e *Engine) MatchInvoice(ctx context.Context, sess store.Session, invoiceID models.InvoiceID, overrideRules *models.RuleSet, actor string) (*models.MatchResult, error) {
	inv, err := sess.Invoices().Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := sess.Invoices().UpdateMatchingStatus(ctx, inv.ID, inv.MatchingStatus, models.MatchingInProgress); err != nil {
		return nil, err
	}
	inv.MatchingStatus = models.MatchingInProgress

	invoiceVendor, err := sess.Vendors().Get(ctx, inv.VendorID)
	if err != nil {
		return nil, err
	}

	var rs models.RuleSet
	if overrideRules != nil {
		rs = *overrideRules
	} else {
		rs, err = e.resolver.Resolve(ctx, sess, inv.TenantID, inv.VendorID, "", rules.AmountBandKey(inv.TotalAmount.Cents))
		if err != nil {
			return nil, err
		}
	}

	candidates, err := findCandidates(ctx, sess, inv, invoiceVendor, rs)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		if err := e.recordNoCandidate(ctx, sess, inv, rs, actor); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ranked := e.scoreAndRank(candidates, inv, invoiceVendor, rs)
	best := ranked[0]

	// This follows the auto-approve rule literally: best score alone decides,
	// with no check of how close the runner-up is. A near-tie second
	// candidate (e.g. 0.88 vs 0.86) still auto-approves rather than falling
	// to review, which some readings of the decision policy expect. Flagging
	// for product rather than resolving unilaterally — the tie-break rules in
	// scoreAndRank below only order same-score candidates, they don't lower
	// the decision tier.
	switch {
	case best.score >= rs.AutoApproveThreshold:
		return e.approve(ctx, sess, inv, invoiceVendor, rs, best, actor)
	case best.score >= rs.ManualReviewThreshold:
		return e.review(ctx, sess, inv, rs, ranked, models.ReasonBelowThreshold, actor)
	default:
		return e.review(ctx, sess, inv, rs, ranked, models.ReasonBelowThreshold, actor)
	}
}

// scoreAndRank scores every candidate and orders them by score desc, then
// the §4.4.3 tie-break rules for any pair within tieBreakEpsilon.
func (e *Engine) scoreAndRank(candidates []candidate, inv *models.Invoice, invoiceVendor *models.Vendor, rs models.RuleSet) []scored {
	ocr := newOCRMatchCache()
	out := make([]scored, 0, len(candidates))

	for _, c := range candidates {
		sref := referenceScore(inv.PONumber, c.po.PONumber, ocr)
		samt := amountScore(inv.TotalAmount, c.po.TotalAmount, rs.PriceTolerancePct)
		sven := vendorScore(invoiceVendor, c.vendor)
		dd := daysBetween(inv.InvoiceDate, c.po.PODate)
		sdate := dateScore(dd, rs.DateToleranceDays)
		sline := lineScore(len(c.receipts) > 0, inv.Lines, c.po.Lines, rs.QuantityTolerancePct, rs.PriceTolerancePct)

		components := models.ComponentScores{Reference: sref, Amount: samt, Vendor: sven, Date: sdate, Line: sline}
		score := Composite(components, rs)

		out = append(out, scored{
			cand:       c,
			components: components,
			score:      score,
			dateDelta:  dd,
			amountDiff: math.Abs(float64(inv.TotalAmount.Cents - c.po.TotalAmount.Cents)),
			exactRef:   sref == 1.0,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.score-b.score) > tieBreakEpsilon {
			return a.score > b.score
		}
		if a.exactRef != b.exactRef {
			return a.exactRef
		}
		if a.dateDelta != b.dateDelta {
			return a.dateDelta < b.dateDelta
		}
		if a.amountDiff != b.amountDiff {
			return a.amountDiff < b.amountDiff
		}
		return a.cand.po.PODate.Before(b.cand.po.PODate)
	})

	return out
}

func (e *Engine) approve(ctx context.Context, sess store.Session, inv *models.Invoice, invoiceVendor *models.Vendor, rs models.RuleSet, best scored, actor string) (*models.MatchResult, error) {
	threeWay := models.ThreeWayNotApplicable
	var receiptID *models.ReceiptID
	if len(best.cand.receipts) > 0 {
		threeWay = classifyThreeWay(inv, best.cand.po, best.cand.receipts, rs)
		receiptID = &best.cand.receipts[0].ID
	}

	result := &models.MatchResult{
		TenantID:         inv.TenantID,
		InvoiceID:        inv.ID,
		PurchaseOrderID:  poIDPtr(best.cand.po.ID),
		ReceiptID:        receiptID,
		MatchType:        matchTypeFor(receiptID),
		ThreeWayType:     threeWay,
		Confidence:       best.score,
		Components:       best.components,
		Status:           models.MatchStatusApproved,
		AlgorithmVersion: AlgorithmVersion,
	}
	if err := sess.MatchResults().Create(ctx, result); err != nil {
		return nil, err
	}

	if err := sess.Invoices().UpdateMatchingStatus(ctx, inv.ID, models.MatchingInProgress, models.MatchingAutoMatched); err != nil {
		return nil, err
	}

	if _, err := appendAuditEvent(ctx, sess, inv, rs, best.cand.po.ID, receiptID, best.components, best.score, "auto_approved", actor); err != nil {
		return nil, err
	}

	log.WithField("invoice_id", inv.ID).WithField("score", best.score).Info("invoice auto-matched")
	return result, nil
}

// review persists the top-N pending MatchResults and raises an
// ExceptionEntry, per §4.4.3's below-threshold / multiple-candidates /
// no-candidate branches.
func (e *Engine) review(ctx context.Context, sess store.Session, inv *models.Invoice, rs models.RuleSet, ranked []scored, reason models.ExceptionReason, actor string) (*models.MatchResult, error) {
	n := len(ranked)
	if n > topCandidatesLimit {
		n = topCandidatesLimit
	}

	if n >= 2 && ranked[0].score-ranked[1].score < closeScoresEpsilon {
		reason = models.ReasonMultipleCandidates
	}

	var suggested []models.MatchResultID
	for i := 0; i < n; i++ {
		c := ranked[i]
		threeWay := models.ThreeWayNotApplicable
		var receiptID *models.ReceiptID
		if len(c.cand.receipts) > 0 {
			threeWay = classifyThreeWay(inv, c.cand.po, c.cand.receipts, rs)
			receiptID = &c.cand.receipts[0].ID
		}

		result := &models.MatchResult{
			TenantID:         inv.TenantID,
			InvoiceID:        inv.ID,
			PurchaseOrderID:  poIDPtr(c.cand.po.ID),
			ReceiptID:        receiptID,
			MatchType:        matchTypeFor(receiptID),
			ThreeWayType:     threeWay,
			Confidence:       c.score,
			Components:       c.components,
			Status:           models.MatchStatusPending,
			AlgorithmVersion: AlgorithmVersion,
		}
		if err := sess.MatchResults().Create(ctx, result); err != nil {
			return nil, err
		}
		suggested = append(suggested, result.ID)

		if i == 0 {
			if _, err := appendAuditEvent(ctx, sess, inv, rs, c.cand.po.ID, receiptID, c.components, c.score, "requires_review", actor); err != nil {
				return nil, err
			}
		}
	}

	if err := sess.Invoices().UpdateMatchingStatus(ctx, inv.ID, models.MatchingInProgress, models.MatchingRequiresReview); err != nil {
		return nil, err
	}

	priority := e.priorityFor(ctx, sess, inv)
	if err := e.raiseException(ctx, sess, inv, reason, suggested, priority); err != nil {
		return nil, err
	}

	log.WithField("invoice_id", inv.ID).WithField("best_score", ranked[0].score).Info("invoice requires manual review")
	return nil, nil
}

func (e *Engine) recordNoCandidate(ctx context.Context, sess store.Session, inv *models.Invoice, rs models.RuleSet, actor string) error {
	if err := sess.Invoices().UpdateMatchingStatus(ctx, inv.ID, models.MatchingInProgress, models.MatchingUnmatchable); err != nil {
		return err
	}
	empty := models.ComponentScores{Reference: 0.5, Amount: 0, Vendor: 0, Date: 0, Line: 0.5}
	if _, err := appendAuditEvent(ctx, sess, inv, rs, "", nil, empty, 0, "no_candidate", actor); err != nil {
		return err
	}
	priority := e.priorityFor(ctx, sess, inv)
	return e.raiseException(ctx, sess, inv, models.ReasonNoCandidate, nil, priority)
}

// raiseException is idempotent by (invoice_id, open-status): if an open
// entry already exists for this invoice, it is left untouched rather than
// duplicated (spec §4.6 enqueue contract).
func (e *Engine) raiseException(ctx context.Context, sess store.Session, inv *models.Invoice, reason models.ExceptionReason, suggested []models.MatchResultID, priority models.ExceptionPriority) error {
	existing, err := sess.ExceptionEntries().GetOpenForInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	entry := &models.ExceptionEntry{
		TenantID:         inv.TenantID,
		InvoiceID:        inv.ID,
		Reason:           reason,
		Priority:         priority,
		SuggestedMatches: suggested,
		Status:           models.ExceptionOpen,
	}
	return sess.ExceptionEntries().Create(ctx, entry)
}

// priorityFor implements §4.6's priority formula (amount percentile within
// tenant + age), against a bounded recent-invoice sample rather than the
// full tenant history — see exceptions.AssignPriority.
func (e *Engine) priorityFor(ctx context.Context, sess store.Session, inv *models.Invoice) models.ExceptionPriority {
	page, err := sess.Invoices().List(ctx, store.ListFilter{Limit: 100})
	if err != nil {
		log.WithField("invoice_id", inv.ID).WithError(err).Warn("priority sample lookup failed, defaulting to medium")
		return models.PriorityMedium
	}

	peers := make([]int64, 0, len(page.Data))
	for _, other := range page.Data {
		peers = append(peers, other.TotalAmount.Cents)
	}

	ageDays := int(time.Since(inv.CreatedAt).Hours() / 24)
	return exceptions.AssignPriority(inv.TotalAmount.Cents, peers, ageDays)
}

func matchTypeFor(receiptID *models.ReceiptID) models.MatchType {
	if receiptID != nil {
		return models.MatchTypeThreeWay
	}
	return models.MatchTypeFuzzy
}

func poIDPtr(id models.PurchaseOrderID) *models.PurchaseOrderID { return &id }
