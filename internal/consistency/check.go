package consistency

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Check runs every rule over the snapshot. It is pure and deterministic.
func Check(s Snapshot, opts Options) []Finding {
	if opts.DuplicateWindowDays < 0 {
		opts.DuplicateWindowDays = 0
	}
	var findings []Finding
	findings = append(findings, checkReferences(s)...)
	findings = append(findings, checkDuplicates(s.Entries, opts.DuplicateWindowDays)...)
	findings = append(findings, checkClosings(s)...)
	findings = append(findings, checkInclusion(s)...)
	findings = append(findings, checkOrphanItems(s)...)
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity != b.Severity {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.EntityID < b.EntityID
	})
	return findings
}

func checkReferences(s Snapshot) []Finding {
	centers := make(map[int64]CostCenterRef, len(s.CostCenters))
	for _, c := range s.CostCenters {
		centers[c.ID] = c
	}
	methods := make(map[int64]PaymentMethodRef, len(s.PaymentMethods))
	for _, m := range s.PaymentMethods {
		methods[m.ID] = m
	}
	var out []Finding
	for _, e := range s.Entries {
		if cc, ok := centers[e.CostCenterID]; !ok {
			out = append(out, entryFinding(TypeInvalidReference, SeverityCritical, e.ID,
				fmt.Sprintf("lançamento %d referencia centro de custo inexistente (%d)", e.ID, e.CostCenterID)))
		} else if cc.Deleted {
			out = append(out, entryFinding(TypeInvalidReference, SeverityCritical, e.ID,
				fmt.Sprintf("lançamento %d referencia centro de custo excluído (%s)", e.ID, cc.Name)))
		}
		if pm, ok := methods[e.PaymentMethodID]; !ok {
			out = append(out, entryFinding(TypeInvalidReference, SeverityCritical, e.ID,
				fmt.Sprintf("lançamento %d referencia forma de pagamento inexistente (%d)", e.ID, e.PaymentMethodID)))
		} else if pm.Deleted {
			out = append(out, entryFinding(TypeInvalidReference, SeverityCritical, e.ID,
				fmt.Sprintf("lançamento %d referencia forma de pagamento excluída (%s)", e.ID, pm.Name)))
		}
	}
	return out
}

type duplicateKey struct {
	costCenterID int64
	categoryID   int64
	kind         string
	amount       string
}

// checkDuplicates flags entries identical to an earlier one dated within window days.
func checkDuplicates(entries []EntryRow, window int) []Finding {
	groups := make(map[duplicateKey][]EntryRow)
	for _, e := range entries {
		key := duplicateKey{e.CostCenterID, e.CategoryID, e.Kind, e.Amount.StringFixed(2)}
		groups[key] = append(groups[key], e)
	}
	var out []Finding
	limit := time.Duration(window) * 24 * time.Hour
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Date.Equal(group[j].Date) {
				return group[i].ID < group[j].ID
			}
			return group[i].Date.Before(group[j].Date)
		})
		for i := 1; i < len(group); i++ {
			prev, cur := group[i-1], group[i]
			if cur.Date.Sub(prev.Date) <= limit {
				out = append(out, entryFinding(TypeDuplicateEntry, SeverityWarning, cur.ID,
					fmt.Sprintf("lançamento %d parece duplicar o lançamento %d (%s em %s)",
						cur.ID, prev.ID, cur.Amount.StringFixed(2), cur.Date.Format("02/01/2006"))))
			}
		}
	}
	return out
}

// checkClosings compares stored totals with the included entries and flags
// overlaps and unusual balances among committed closings.
func checkClosings(s Snapshot) []Finding {
	type sums struct{ income, expense decimal.Decimal }
	included := make(map[int64]*sums)
	for _, e := range s.Entries {
		if !e.Included || e.ClosingID == nil {
			continue
		}
		t, ok := included[*e.ClosingID]
		if !ok {
			t = &sums{income: decimal.Zero, expense: decimal.Zero}
			included[*e.ClosingID] = t
		}
		if e.Kind == "EXPENSE" {
			t.expense = t.expense.Add(e.Amount)
		} else {
			t.income = t.income.Add(e.Amount)
		}
	}

	var out []Finding
	var locked []ClosingRow
	for _, c := range s.Closings {
		if !c.Locked() {
			continue
		}
		locked = append(locked, c)
		live := included[c.ID]
		if live == nil {
			live = &sums{income: decimal.Zero, expense: decimal.Zero}
		}
		if !live.income.Equal(c.Income) || !live.expense.Equal(c.Expense) {
			out = append(out, closingFinding(TypeTotalsMismatch, SeverityCritical, c.ID,
				fmt.Sprintf("fechamento %d registra entradas %s e saídas %s, mas os lançamentos somam %s e %s",
					c.ID, c.Income.StringFixed(2), c.Expense.StringFixed(2), live.income.StringFixed(2), live.expense.StringFixed(2))))
		}
		expected := c.Income.Sub(c.Expense).Sub(c.Apportionment)
		if !expected.Equal(c.FinalBalance) {
			out = append(out, closingFinding(TypeTotalsMismatch, SeverityCritical, c.ID,
				fmt.Sprintf("fechamento %d tem saldo final %s, esperado %s", c.ID, c.FinalBalance.StringFixed(2), expected.StringFixed(2))))
		}
		switch {
		case c.FinalBalance.IsNegative():
			out = append(out, closingFinding(TypeNegativeBalance, SeverityWarning, c.ID,
				fmt.Sprintf("fechamento %d encerrou com saldo negativo (%s)", c.ID, c.FinalBalance.StringFixed(2))))
		case c.FinalBalance.IsZero():
			out = append(out, closingFinding(TypeZeroBalance, SeverityInfo, c.ID,
				fmt.Sprintf("fechamento %d encerrou com saldo zerado", c.ID)))
		}
	}

	sort.Slice(locked, func(i, j int) bool { return locked[i].ID < locked[j].ID })
	for i := 0; i < len(locked); i++ {
		for j := i + 1; j < len(locked); j++ {
			a, b := locked[i], locked[j]
			if a.CostCenterID != b.CostCenterID || a.Start.After(b.End) || b.Start.After(a.End) {
				continue
			}
			out = append(out, closingFinding(TypeApprovedOverlap, SeverityCritical, b.ID,
				fmt.Sprintf("fechamentos %d e %d do mesmo centro de custo se sobrepõem", a.ID, b.ID)))
		}
	}
	return out
}

// checkInclusion verifies that every included entry belongs to a committed
// closing of its cost center and range, and that no open entry hides inside one.
func checkInclusion(s Snapshot) []Finding {
	closings := make(map[int64]ClosingRow, len(s.Closings))
	for _, c := range s.Closings {
		closings[c.ID] = c
	}
	var out []Finding
	for _, e := range s.Entries {
		if e.Included {
			if e.ClosingID == nil {
				out = append(out, entryFinding(TypeInclusionMismatch, SeverityCritical, e.ID,
					fmt.Sprintf("lançamento %d marcado como incluído sem fechamento", e.ID)))
				continue
			}
			c, ok := closings[*e.ClosingID]
			switch {
			case !ok:
				out = append(out, entryFinding(TypeInclusionMismatch, SeverityCritical, e.ID,
					fmt.Sprintf("lançamento %d aponta para fechamento inexistente (%d)", e.ID, *e.ClosingID)))
			case !c.Locked():
				out = append(out, entryFinding(TypeInclusionMismatch, SeverityCritical, e.ID,
					fmt.Sprintf("lançamento %d incluído no fechamento %d que não está aprovado", e.ID, c.ID)))
			case c.CostCenterID != e.CostCenterID || e.Date.Before(c.Start) || e.Date.After(c.End):
				out = append(out, entryFinding(TypeInclusionMismatch, SeverityCritical, e.ID,
					fmt.Sprintf("lançamento %d está fora do centro de custo ou período do fechamento %d", e.ID, c.ID)))
			}
			continue
		}
		for _, c := range s.Closings {
			if c.Locked() && c.CostCenterID == e.CostCenterID && !e.Date.Before(c.Start) && !e.Date.After(c.End) {
				out = append(out, entryFinding(TypeInclusionMismatch, SeverityCritical, e.ID,
					fmt.Sprintf("lançamento %d está no período do fechamento aprovado %d mas não foi incluído", e.ID, c.ID)))
				break
			}
		}
	}
	return out
}

func checkOrphanItems(s Snapshot) []Finding {
	closings := make(map[int64]ClosingRow, len(s.Closings))
	for _, c := range s.Closings {
		closings[c.ID] = c
	}
	centers := make(map[int64]CostCenterRef, len(s.CostCenters))
	for _, c := range s.CostCenters {
		centers[c.ID] = c
	}
	var out []Finding
	for _, it := range s.Items {
		c, ok := closings[it.ClosingID]
		if !ok || !c.Locked() {
			out = append(out, Finding{Type: TypeOrphanApportionment, Severity: SeverityWarning, Entity: "apportionment_item", EntityID: it.ID,
				Message: fmt.Sprintf("item de rateio %d pertence a fechamento inexistente ou não aprovado (%d)", it.ID, it.ClosingID)})
			continue
		}
		if cc, ok := centers[it.DestinationID]; !ok || cc.Deleted {
			out = append(out, Finding{Type: TypeOrphanApportionment, Severity: SeverityWarning, Entity: "apportionment_item", EntityID: it.ID,
				Message: fmt.Sprintf("item de rateio %d destina valores a centro de custo excluído (%d)", it.ID, it.DestinationID)})
		}
	}
	return out
}

func entryFinding(t FindingType, sev Severity, id int64, msg string) Finding {
	return Finding{Type: t, Severity: sev, Entity: "ledger_entry", EntityID: id, Message: msg}
}

func closingFinding(t FindingType, sev Severity, id int64, msg string) Finding {
	return Finding{Type: t, Severity: sev, Entity: "period_closing", EntityID: id, Message: msg}
}
