package closing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Options tunes workflow behaviour.
type Options struct {
	// AllowEmpty lets Open create closings for ranges with no open entries.
	AllowEmpty    bool
	Apportionment apportionment.Options
}

// Service orchestrates the closing lifecycle.
type Service struct {
	repo  Repository
	authz rbac.Authorizer
	audit shared.AuditSink
	clock shared.Clock
	opts  Options
}

// NewService constructs a Service.
func NewService(repo Repository, authz rbac.Authorizer, audit shared.AuditSink, clock shared.Clock, opts Options) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if opts.Apportionment.Base == "" || opts.Apportionment.Rounding == "" {
		opts.Apportionment = apportionment.DefaultOptions()
	}
	return &Service{repo: repo, authz: authz, audit: audit, clock: clock, opts: opts}
}

// Open creates a pending closing for the cost center and range.
func (s *Service) Open(ctx context.Context, in OpenInput) (Closing, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if !in.Start.IsZero() {
		in.Start = shared.DateOnly(in.Start)
	}
	if !in.End.IsZero() {
		in.End = shared.DateOnly(in.End)
	}
	if err := in.Validate(); err != nil {
		return Closing{}, err
	}
	if err := s.authorizeOperate(ctx, in.ActorID, in.CostCenterID); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cc, err := lockUsableCostCenter(ctx, tx, in.CostCenterID)
		if err != nil {
			return err
		}
		overlap, err := tx.HasApprovedOverlap(ctx, cc.ID, in.Start, in.End, 0)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}
		lines, err := tx.EligibleEntries(ctx, cc.ID, in.Start, in.End, 0)
		if err != nil {
			return err
		}
		if len(lines) == 0 && !s.opts.AllowEmpty {
			return ErrNoEntries
		}
		rules, err := tx.ActiveRules(ctx, cc.ID)
		if err != nil {
			return err
		}
		c := Closing{
			CostCenterID:   cc.ID,
			CostCenterName: cc.Name,
			CostCenterType: cc.Type,
			StartDate:      in.Start,
			EndDate:        in.End,
			TotalReceived:  decimal.Zero,
			Status:         StatusPending,
			Notes:          in.Notes,
			CreatedBy:      in.ActorID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.applyTotals(&c, lines, rules)
		out, err = tx.InsertClosing(ctx, c)
		return err
	})
	if err != nil {
		return Closing{}, err
	}
	s.record(ctx, in.ActorID, "closing.open", out, nil)
	return out, nil
}

// Recompute refreshes the totals of a pending closing from live entries.
func (s *Service) Recompute(ctx context.Context, id, actorID int64) (Closing, error) {
	return s.refresh(ctx, id, actorID, false)
}

// Submit recomputes a pending closing one final time and stamps the submission.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (Closing, error) {
	return s.refresh(ctx, id, actorID, true)
}

func (s *Service) refresh(ctx context.Context, id, actorID int64, submit bool) (Closing, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Closing{}, err
	}
	if err := s.authorizeOperate(ctx, actorID, current.CostCenterID); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockCostCenter(ctx, current.CostCenterID); err != nil {
			return err
		}
		c, err := tx.LockClosing(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != StatusPending {
			return ErrInvalidTransition
		}
		if c.SubmittedAt != nil {
			if submit {
				return ErrAlreadySubmitted
			}
			return ErrSubmittedTotals
		}
		lines, err := tx.EligibleEntries(ctx, c.CostCenterID, c.StartDate, c.EndDate, c.ID)
		if err != nil {
			return err
		}
		rules, err := tx.ActiveRules(ctx, c.CostCenterID)
		if err != nil {
			return err
		}
		s.applyTotals(&c, lines, rules)
		if submit {
			c.SubmittedBy, c.SubmittedAt = &actorID, &now
		}
		c.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Closing{}, err
	}
	if submit {
		s.record(ctx, actorID, "closing.submit", out, nil)
	} else {
		s.record(ctx, actorID, "closing.recompute", out, nil)
	}
	return out, nil
}

// Approve commits a pending closing: entries are marked included, details and
// apportionment items are persisted and the final balance is fixed. A closing
// that lost the race against an overlapping approval fails with
// shared.ErrConcurrencyConflict.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Closing, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Closing{}, err
	}
	if err := s.authorizeApprove(ctx, actorID, current.CostCenterID); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockCostCenter(ctx, current.CostCenterID); err != nil {
			return err
		}
		c, err := tx.LockClosing(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case c.Status.Locked():
			return shared.Conflict("closing %d is already %s", c.ID, strings.ToLower(string(c.Status)))
		case c.Status != StatusPending:
			return ErrInvalidTransition
		}
		overlap, err := tx.HasApprovedOverlap(ctx, c.CostCenterID, c.StartDate, c.EndDate, c.ID)
		if err != nil {
			return err
		}
		if overlap {
			return shared.Conflict("an approved closing already covers %s..%s", c.StartDate.Format(time.DateOnly), c.EndDate.Format(time.DateOnly))
		}
		lines, err := tx.EligibleEntries(ctx, c.CostCenterID, c.StartDate, c.EndDate, c.ID)
		if err != nil {
			return err
		}
		rules, err := tx.ActiveRules(ctx, c.CostCenterID)
		if err != nil {
			return err
		}
		res := s.applyTotals(&c, lines, rules)
		if err := tx.InsertDetails(ctx, c.ID, lines); err != nil {
			return err
		}
		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.EntryID)
		}
		marked, err := tx.MarkEntriesIncluded(ctx, c.ID, ids, now)
		if err != nil {
			return err
		}
		if marked != int64(len(ids)) {
			return shared.Conflict("closing %d: %d of %d entries were taken by another closing", c.ID, int64(len(ids))-marked, len(ids))
		}
		if err := tx.InsertItems(ctx, apportionment.ItemsFromResult(c.ID, res, now)); err != nil {
			return err
		}
		c.Status = StatusApproved
		c.ApprovedBy, c.ApprovedAt = &actorID, &now
		c.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Closing{}, err
	}
	s.record(ctx, actorID, "closing.approve", out, map[string]any{
		"final_balance":       out.FinalBalance.StringFixed(2),
		"total_apportionment": out.TotalApportionment.StringFixed(2),
	})
	return out, nil
}

// Reject closes a pending closing without touching its entries.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (Closing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Closing{}, shared.Invalid("reason", "motivo da rejeição obrigatório")
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Closing{}, err
	}
	if err := s.authorizeApprove(ctx, actorID, current.CostCenterID); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockClosing(ctx, id)
		if err != nil {
			return err
		}
		if !c.Status.CanTransition(StatusRejected) {
			return ErrInvalidTransition
		}
		c.Status = StatusRejected
		c.RejectedBy, c.RejectedAt = &actorID, &now
		c.RejectionReason = reason
		c.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Closing{}, err
	}
	s.record(ctx, actorID, "closing.reject", out, map[string]any{"reason": reason})
	return out, nil
}

// ProcessByHeadquarters marks approved non-headquarters closings as absorbed by
// the approved headquarters closing hqID. The rateio they sent to the
// headquarters cost center is added to the headquarters TotalReceived.
func (s *Service) ProcessByHeadquarters(ctx context.Context, hqID int64, closingIDs []int64, actorID int64) (Closing, error) {
	ids := uniqueIDs(closingIDs)
	if len(ids) == 0 {
		return Closing{}, shared.Invalid("closing_ids", "selecione ao menos um fechamento")
	}
	if err := s.requireRole(ctx, actorID, rbac.RoleTreasurerGeneral); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		hq, err := tx.LockClosing(ctx, hqID)
		if err != nil {
			return err
		}
		if hq.CostCenterType != costcenters.TypeHeadquarters {
			return shared.Invalid("closing_id", "fechamento não pertence à sede")
		}
		if hq.Status != StatusApproved {
			return ErrInvalidTransition
		}
		var errs shared.ValidationErrors
		received := decimal.Zero
		for _, id := range ids {
			if id == hq.ID {
				errs.Add("closing_ids", "o fechamento da sede não pode processar a si mesmo")
				continue
			}
			c, err := tx.LockClosing(ctx, id)
			if errors.Is(err, shared.ErrNotFound) {
				errs.Add("closing_ids", fmt.Sprintf("fechamento %d inexistente", id))
				continue
			}
			if err != nil {
				return err
			}
			if c.CostCenterType == costcenters.TypeHeadquarters {
				errs.Add("closing_ids", fmt.Sprintf("fechamento %d pertence à sede", id))
				continue
			}
			if c.Status != StatusApproved || c.ProcessedByClosingID != nil {
				errs.Add("closing_ids", fmt.Sprintf("fechamento %d não está aprovado ou já foi processado", id))
				continue
			}
			items, err := tx.ItemsForClosing(ctx, c.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.DestinationID == hq.CostCenterID {
					received = received.Add(it.Amount)
				}
			}
			c.Status = StatusProcessed
			c.ProcessedByClosingID, c.ProcessedAt = &hq.ID, &now
			c.UpdatedAt = now
			if err := tx.UpdateClosing(ctx, c); err != nil {
				return err
			}
		}
		if err := errs.Err(); err != nil {
			return err
		}
		hq.TotalReceived = hq.TotalReceived.Add(received)
		hq.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, hq); err != nil {
			return err
		}
		out = hq
		return nil
	})
	if err != nil {
		return Closing{}, err
	}
	s.record(ctx, actorID, "closing.process", out, map[string]any{
		"closing_ids":    ids,
		"total_received": out.TotalReceived.StringFixed(2),
	})
	return out, nil
}

// Reopen returns an approved closing to pending, releasing its entries and
// discarding its details and apportionment items.
func (s *Service) Reopen(ctx context.Context, id, actorID int64, reason string) (Closing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Closing{}, shared.Invalid("reason", "motivo da reabertura obrigatório")
	}
	if err := s.requireRole(ctx, actorID, rbac.RoleAdministrator); err != nil {
		return Closing{}, err
	}
	now := s.clock.Now()
	var out Closing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockClosing(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != StatusApproved {
			return ErrInvalidTransition
		}
		absorbed, err := tx.HasProcessed(ctx, c.ID)
		if err != nil {
			return err
		}
		if absorbed {
			return ErrHasProcessed
		}
		if err := tx.ReleaseEntries(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.DeleteDetails(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, c.ID); err != nil {
			return err
		}
		c.Status = StatusPending
		c.ApprovedBy, c.ApprovedAt = nil, nil
		c.SubmittedBy, c.SubmittedAt = nil, nil
		c.TotalReceived = decimal.Zero
		note := fmt.Sprintf("Reaberto em %s: %s", now.Format("02/01/2006"), reason)
		if c.Notes == "" {
			c.Notes = note
		} else {
			c.Notes += "\n" + note
		}
		c.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Closing{}, err
	}
	s.record(ctx, actorID, "closing.reopen", out, map[string]any{"reason": reason})
	return out, nil
}

// Get returns a closing visible to the actor.
func (s *Service) Get(ctx context.Context, id, actorID int64) (Closing, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Closing{}, err
	}
	if err := s.authorizeView(ctx, actorID, c.CostCenterID); err != nil {
		return Closing{}, err
	}
	return c, nil
}

// List returns the closings visible to the actor.
func (s *Service) List(ctx context.Context, actorID int64, filter ListFilter) ([]Closing, error) {
	all, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.visible(ctx, actorID, all)
}

// Details returns the entry snapshot of a closing.
func (s *Service) Details(ctx context.Context, id, actorID int64) ([]Detail, error) {
	if _, err := s.Get(ctx, id, actorID); err != nil {
		return nil, err
	}
	return s.repo.Details(ctx, id)
}

// Items returns the apportionment items of a closing.
func (s *Service) Items(ctx context.Context, id, actorID int64) ([]apportionment.Item, error) {
	if _, err := s.Get(ctx, id, actorID); err != nil {
		return nil, err
	}
	return s.repo.Items(ctx, id)
}

// SelectableForHeadquarters lists the closings hqID may still absorb.
func (s *Service) SelectableForHeadquarters(ctx context.Context, hqID, actorID int64) ([]Closing, error) {
	if err := s.requireRole(ctx, actorID, rbac.RoleTreasurerGeneral); err != nil {
		return nil, err
	}
	hq, err := s.repo.Get(ctx, hqID)
	if err != nil {
		return nil, err
	}
	if hq.CostCenterType != costcenters.TypeHeadquarters || hq.Status != StatusApproved {
		return nil, nil
	}
	return s.repo.Selectable(ctx)
}

// applyTotals recomputes totals, rateio and final balance in place.
func (s *Service) applyTotals(c *Closing, lines []EntryLine, rules []apportionment.Rule) apportionment.Result {
	c.Totals = Aggregate(lines)
	base := apportionment.BaseFor(c.Totals.Income, c.Totals.Expense, s.opts.Apportionment.Base)
	res := apportionment.Compute(base, rules, s.opts.Apportionment)
	c.TotalApportionment = res.Total
	c.FinalBalance = c.Totals.Balance().Sub(res.Total)
	return res
}

func (s *Service) visible(ctx context.Context, actorID int64, in []Closing) ([]Closing, error) {
	out := make([]Closing, 0, len(in))
	allowed := make(map[int64]bool)
	for _, c := range in {
		ok, seen := allowed[c.CostCenterID]
		if !seen {
			var err error
			ok, err = s.authz.CanAccessCostCenter(ctx, actorID, c.CostCenterID)
			if err != nil {
				return nil, err
			}
			allowed[c.CostCenterID] = ok
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) authorizeView(ctx context.Context, actorID, costCenterID int64) error {
	ok, err := s.authz.CanAccessCostCenter(ctx, actorID, costCenterID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

// authorizeOperate admits treasurers with access to the cost center.
func (s *Service) authorizeOperate(ctx context.Context, actorID, costCenterID int64) error {
	if err := s.requireRole(ctx, actorID, rbac.RoleTreasurerLocal); err != nil {
		return err
	}
	return s.authorizeView(ctx, actorID, costCenterID)
}

// authorizeApprove admits general treasurers for any cost center and local
// treasurers for their own.
func (s *Service) authorizeApprove(ctx context.Context, actorID, costCenterID int64) error {
	if err := s.requireRole(ctx, actorID, rbac.RoleTreasurerLocal); err != nil {
		return err
	}
	general, err := s.authz.HasRole(ctx, actorID, rbac.RoleTreasurerGeneral)
	if err != nil {
		return err
	}
	if general {
		return nil
	}
	return s.authorizeView(ctx, actorID, costCenterID)
}

func (s *Service) requireRole(ctx context.Context, actorID int64, role rbac.Role) error {
	if s.authz == nil || actorID <= 0 {
		return shared.ErrForbidden
	}
	ok, err := s.authz.HasRole(ctx, actorID, role)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, c Closing, extra map[string]any) {
	details := map[string]any{
		"cost_center_id": c.CostCenterID,
		"start_date":     c.StartDate.Format(time.DateOnly),
		"end_date":       c.EndDate.Format(time.DateOnly),
		"status":         string(c.Status),
		"total_income":   c.Totals.Income.StringFixed(2),
		"total_expense":  c.Totals.Expense.StringFixed(2),
	}
	for k, v := range extra {
		details[k] = v
	}
	s.audit.Log(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "period_closing",
		EntityID: strconv.FormatInt(c.ID, 10),
		Details:  details,
		At:       s.clock.Now(),
	})
}

func lockUsableCostCenter(ctx context.Context, tx TxRepository, id int64) (costcenters.CostCenter, error) {
	cc, err := tx.LockCostCenter(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return costcenters.CostCenter{}, shared.Invalid("cost_center_id", "centro de custo inexistente")
	}
	if err != nil {
		return costcenters.CostCenter{}, err
	}
	if !cc.Usable() {
		return costcenters.CostCenter{}, shared.Invalid("cost_center_id", "centro de custo inativo")
	}
	return cc, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
