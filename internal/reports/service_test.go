package reports

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

func day(raw string) time.Time {
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(raw string) decimal.Decimal { return decimal.RequireFromString(raw) }

type stubClosings struct {
	gets    atomic.Int32
	closing closing.Closing
	details []closing.Detail
	items   []apportionment.Item
	err     error
}

func (s *stubClosings) Get(context.Context, int64, int64) (closing.Closing, error) {
	s.gets.Add(1)
	return s.closing, s.err
}

func (s *stubClosings) Details(context.Context, int64, int64) ([]closing.Detail, error) {
	return s.details, nil
}

func (s *stubClosings) Items(context.Context, int64, int64) ([]apportionment.Item, error) {
	return s.items, nil
}

type stubEntries struct {
	entries []ledger.Entry
	err     error
}

func (s stubEntries) List(_ context.Context, _ int64, f ledger.Filter) ([]ledger.Entry, ledger.Totals, shared.Pagination, error) {
	if s.err != nil {
		return nil, ledger.Totals{}, shared.Pagination{}, s.err
	}
	totals := ledger.Totals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range s.entries {
		if e.Kind == masterdata.KindIncome {
			totals.Income = totals.Income.Add(e.Amount)
		} else {
			totals.Expense = totals.Expense.Add(e.Amount)
		}
	}
	pg := shared.NewPagination(f.Page, f.PerPage, len(s.entries))
	start := min(pg.Offset(), len(s.entries))
	end := min(start+pg.PerPage, len(s.entries))
	return s.entries[start:end], totals, pg, nil
}

type stubCostCenters struct{}

func (stubCostCenters) Get(_ context.Context, id int64) (costcenters.CostCenter, error) {
	return costcenters.CostCenter{ID: id, Name: "Congregação Norte", Type: costcenters.TypeCongregation}, nil
}

type stubPDF struct {
	calls   atomic.Int32
	release chan struct{}
	mu      sync.Mutex
	html    string
}

func (s *stubPDF) RenderHTML(_ context.Context, html string) ([]byte, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.html = html
	s.mu.Unlock()
	return []byte("%PDF"), nil
}

func approvedClosing() *stubClosings {
	approvedAt := day("2024-02-01")
	return &stubClosings{
		closing: closing.Closing{
			ID: 7, CostCenterID: 3, CostCenterName: "Congregação Norte",
			StartDate: day("2024-01-01"), EndDate: day("2024-01-31"),
			Totals: closing.Totals{
				Income: dec("1000"), Expense: dec("300"),
				IncomePhysical: dec("600"), IncomeDigital: dec("400"),
				ExpensePhysical: dec("300"), ExpenseDigital: decimal.Zero, EntryCount: 2,
			},
			TotalApportionment: dec("70"),
			FinalBalance:       dec("630"),
			Status:             closing.StatusApproved,
			ApprovedAt:         &approvedAt,
			UpdatedAt:          approvedAt,
		},
		details: []closing.Detail{
			{ID: 1, ClosingID: 7, EntryLine: closing.EntryLine{EntryID: 11, Kind: masterdata.KindIncome, Date: day("2024-01-07"), Amount: dec("1000"), CategoryName: "Dízimos", PaymentMethodName: "PIX", CashBox: masterdata.CashBoxDigital}},
			{ID: 2, ClosingID: 7, EntryLine: closing.EntryLine{EntryID: 12, Kind: masterdata.KindExpense, Date: day("2024-01-10"), Amount: dec("300"), CategoryName: "Energia", PaymentMethodName: "Dinheiro", CashBox: masterdata.CashBoxPhysical}},
		},
		items: []apportionment.Item{
			{ID: 1, ClosingID: 7, DestinationID: 1, Destination: "Sede", Base: dec("700"), Percentage: dec("10"), Amount: dec("70")},
		},
	}
}

func newRenderer(t *testing.T, client PDFClient) *PDFRenderer {
	t.Helper()
	r, err := NewPDFRenderer(client)
	require.NoError(t, err)
	return r
}

func TestClosingStatementHTMLShowsFinalBalanceInBrazilianFormat(t *testing.T) {
	closings := approvedClosing()
	renderer := newRenderer(t, &stubPDF{})
	svc := NewService(closings, stubEntries{}, stubCostCenters{}, renderer, shared.FixedClock(day("2024-02-02")), nil)

	stmt, err := svc.ClosingStatement(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.False(t, stmt.Preview())
	assert.True(t, stmt.PhysicalBalance().Equal(dec("300")))
	assert.True(t, stmt.DigitalBalance().Equal(dec("400")))

	html, err := renderer.HTML(stmt)
	require.NoError(t, err)
	assert.Contains(t, html, "630,00")
	assert.Contains(t, html, "1.000,00")
	assert.Contains(t, html, "Sede")
	assert.Contains(t, html, "Dízimos")
	assert.NotContains(t, html, "Prévia")
}

func TestClosingPDFForbiddenNeverRenders(t *testing.T) {
	closings := approvedClosing()
	closings.err = shared.ErrForbidden
	pdf := &stubPDF{}
	svc := NewService(closings, stubEntries{}, stubCostCenters{}, newRenderer(t, pdf), nil, nil)

	_, err := svc.ClosingPDF(context.Background(), 9, 7)
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.Zero(t, pdf.calls.Load())
}

func TestConcurrentClosingPDFRequestsShareOneRender(t *testing.T) {
	closings := approvedClosing()
	pdf := &stubPDF{release: make(chan struct{})}
	svc := NewService(closings, stubEntries{}, stubCostCenters{}, newRenderer(t, pdf), nil, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ClosingPDF(context.Background(), 1, 7)
		}(i)
	}
	require.Eventually(t, func() bool { return pdf.calls.Load() == 1 && closings.gets.Load() >= callers+1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(pdf.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "%PDF", string(results[i]))
	}
	assert.Equal(t, int32(1), pdf.calls.Load())
}

func TestLedgerStatementRunningBalance(t *testing.T) {
	entries := stubEntries{entries: []ledger.Entry{
		{ID: 3, Kind: masterdata.KindExpense, Date: day("2024-03-10"), Amount: dec("50"), Description: "Água"},
		{ID: 2, Kind: masterdata.KindIncome, Date: day("2024-03-03"), Amount: dec("200"), Description: "Oferta"},
		{ID: 1, Kind: masterdata.KindIncome, Date: day("2024-03-03"), Amount: dec("100"), Description: "Dízimo"},
	}}
	renderer := newRenderer(t, &stubPDF{})
	svc := NewService(&stubClosings{}, entries, stubCostCenters{}, renderer, shared.FixedClock(day("2024-04-01")), nil)

	stmt, err := svc.LedgerStatement(context.Background(), 1, 3, day("2024-03-01"), day("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, stmt.Lines, 3)
	assert.Equal(t, int64(1), stmt.Lines[0].ID)
	assert.True(t, stmt.Lines[2].Balance.Equal(dec("250")))
	assert.False(t, stmt.Truncated)

	html, err := renderer.HTML(stmt)
	require.NoError(t, err)
	assert.Contains(t, html, "Congregação Norte")
	assert.Contains(t, html, "250,00")
	assert.True(t, strings.Index(html, "Dízimo") < strings.Index(html, "Água"))
}

func TestLedgerStatementRejectsInvertedRange(t *testing.T) {
	svc := NewService(&stubClosings{}, stubEntries{}, stubCostCenters{}, newRenderer(t, &stubPDF{}), nil, nil)
	_, err := svc.LedgerPDF(context.Background(), 1, 3, day("2024-03-31"), day("2024-03-01"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}
