package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
)

// ClosingStatement is the printable form of a period closing.
type ClosingStatement struct {
	Closing     closing.Closing
	Details     []closing.Detail
	Items       []apportionment.Item
	GeneratedAt time.Time
}

// Template implements Document.
func (ClosingStatement) Template() string { return "reports/closing_statement" }

// Preview reports whether the closing is not yet approved, so figures may change.
func (s ClosingStatement) Preview() bool { return !s.Closing.Status.Locked() }

// PhysicalBalance is the physical cash box income minus expense.
func (s ClosingStatement) PhysicalBalance() decimal.Decimal {
	return s.Closing.Totals.IncomePhysical.Sub(s.Closing.Totals.ExpensePhysical)
}

// DigitalBalance is the digital cash box income minus expense.
func (s ClosingStatement) DigitalBalance() decimal.Decimal {
	return s.Closing.Totals.IncomeDigital.Sub(s.Closing.Totals.ExpenseDigital)
}

// Incomes returns the income detail lines.
func (s ClosingStatement) Incomes() []closing.Detail { return s.detailsOf(masterdata.KindIncome) }

// Expenses returns the expense detail lines.
func (s ClosingStatement) Expenses() []closing.Detail { return s.detailsOf(masterdata.KindExpense) }

func (s ClosingStatement) detailsOf(kind masterdata.Kind) []closing.Detail {
	var out []closing.Detail
	for _, d := range s.Details {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// LedgerLine is one statement row with the running balance after it.
type LedgerLine struct {
	ledger.Entry
	Balance decimal.Decimal
}

// LedgerStatement lists the entries of a cost center over a date range.
type LedgerStatement struct {
	CostCenterName string
	From           time.Time
	To             time.Time
	Lines          []LedgerLine
	Totals         ledger.Totals
	Truncated      bool
	GeneratedAt    time.Time
}

// Template implements Document.
func (LedgerStatement) Template() string { return "reports/ledger_statement" }

// BuildLedgerLines orders entries chronologically and accumulates the balance.
func BuildLedgerLines(entries []ledger.Entry) []LedgerLine {
	ordered := append([]ledger.Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})
	out := make([]LedgerLine, 0, len(ordered))
	running := decimal.Zero
	for _, e := range ordered {
		running = running.Add(e.Signed())
		out = append(out, LedgerLine{Entry: e, Balance: running})
	}
	return out
}
