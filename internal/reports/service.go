// Package reports prints closing and ledger statements as PDF documents.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

const (
	statementPageSize   = 500
	maxStatementEntries = 5000
)

type closingReader interface {
	Get(ctx context.Context, id, actorID int64) (closing.Closing, error)
	Details(ctx context.Context, id, actorID int64) ([]closing.Detail, error)
	Items(ctx context.Context, id, actorID int64) ([]apportionment.Item, error)
}

type entryReader interface {
	List(ctx context.Context, actorID int64, filter ledger.Filter) ([]ledger.Entry, ledger.Totals, shared.Pagination, error)
}

type costCenterReader interface {
	Get(ctx context.Context, id int64) (costcenters.CostCenter, error)
}

// Service assembles statements and renders them. Identical concurrent
// requests share a single render.
type Service struct {
	closings    closingReader
	entries     entryReader
	costCenters costCenterReader
	renderer    Renderer
	clock       shared.Clock
	logger      *slog.Logger
	group       singleflight.Group
}

// NewService constructs a Service.
func NewService(closings closingReader, entries entryReader, costCenters costCenterReader, renderer Renderer, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{closings: closings, entries: entries, costCenters: costCenters, renderer: renderer, clock: clock, logger: logger}
}

// ClosingStatement loads everything printed on a closing statement.
func (s *Service) ClosingStatement(ctx context.Context, actorID, id int64) (ClosingStatement, error) {
	c, err := s.closings.Get(ctx, id, actorID)
	if err != nil {
		return ClosingStatement{}, err
	}
	details, err := s.closings.Details(ctx, id, actorID)
	if err != nil {
		return ClosingStatement{}, err
	}
	items, err := s.closings.Items(ctx, id, actorID)
	if err != nil {
		return ClosingStatement{}, err
	}
	return ClosingStatement{Closing: c, Details: details, Items: items, GeneratedAt: s.clock.Now()}, nil
}

// ClosingPDF renders the statement of a closing. Access is checked before the
// shared render so callers never receive a document they may not see.
func (s *Service) ClosingPDF(ctx context.Context, actorID, id int64) ([]byte, error) {
	c, err := s.closings.Get(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("closing:%d:%d", id, c.UpdatedAt.UnixNano())
	return s.shared(ctx, key, func(ctx context.Context) (Document, error) {
		return s.ClosingStatement(ctx, actorID, id)
	})
}

// LedgerStatement loads the entries of a cost center in [from, to].
func (s *Service) LedgerStatement(ctx context.Context, actorID, costCenterID int64, from, to time.Time) (LedgerStatement, error) {
	if err := validateRange(costCenterID, from, to); err != nil {
		return LedgerStatement{}, err
	}
	cc, err := s.costCenters.Get(ctx, costCenterID)
	if err != nil {
		return LedgerStatement{}, err
	}
	filter := ledger.Filter{CostCenterID: costCenterID, From: from, To: to, PerPage: statementPageSize}
	var (
		all       []ledger.Entry
		totals    ledger.Totals
		truncated bool
	)
	for page := 1; ; page++ {
		filter.Page = page
		items, t, pg, err := s.entries.List(ctx, actorID, filter)
		if err != nil {
			return LedgerStatement{}, err
		}
		totals = t
		all = append(all, items...)
		if len(all) >= maxStatementEntries {
			truncated = pg.HasNext() || len(all) > maxStatementEntries
			all = all[:maxStatementEntries]
			break
		}
		if !pg.HasNext() {
			break
		}
	}
	return LedgerStatement{
		CostCenterName: cc.Name,
		From:           from,
		To:             to,
		Lines:          BuildLedgerLines(all),
		Totals:         totals,
		Truncated:      truncated,
		GeneratedAt:    s.clock.Now(),
	}, nil
}

// LedgerPDF renders a ledger statement.
func (s *Service) LedgerPDF(ctx context.Context, actorID, costCenterID int64, from, to time.Time) ([]byte, error) {
	if err := validateRange(costCenterID, from, to); err != nil {
		return nil, err
	}
	// Access is checked per caller before joining a shared render.
	if _, _, _, err := s.entries.List(ctx, actorID, ledger.Filter{CostCenterID: costCenterID, From: from, To: to, PerPage: 1}); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("ledger:%d:%s:%s", costCenterID, from.Format("20060102"), to.Format("20060102"))
	return s.shared(ctx, key, func(ctx context.Context) (Document, error) {
		return s.LedgerStatement(ctx, actorID, costCenterID, from, to)
	})
}

func (s *Service) shared(ctx context.Context, key string, build func(context.Context) (Document, error)) ([]byte, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		renderCtx := context.WithoutCancel(ctx)
		doc, err := build(renderCtx)
		if err != nil {
			return nil, err
		}
		return s.renderer.Render(renderCtx, doc)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("report render shared", slog.String("key", key))
		}
		return res.Val.([]byte), nil
	}
}

func validateRange(costCenterID int64, from, to time.Time) error {
	var errs shared.ValidationErrors
	if costCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	if from.IsZero() || to.IsZero() {
		errs.Add("period", "período obrigatório")
	} else if to.Before(from) {
		errs.Add("period", "data inicial deve ser anterior ou igual à data final")
	}
	return errs.Err()
}
