package consistency

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(raw string) time.Time {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		panic(err)
	}
	return t
}

func id(v int64) *int64 { return &v }

func baseSnapshot() Snapshot {
	return Snapshot{
		CostCenters:    []CostCenterRef{{ID: 1, Name: "Sede"}, {ID: 10, Name: "Congregação Norte"}},
		PaymentMethods: []PaymentMethodRef{{ID: 1, Name: "Dinheiro"}, {ID: 2, Name: "PIX"}},
	}
}

func ofType(findings []Finding, t FindingType) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func TestCleanSnapshotHasNoFindings(t *testing.T) {
	s := baseSnapshot()
	s.Entries = []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-01-05"), Amount: decimal.NewFromInt(1000), Included: true, ClosingID: id(7)},
		{ID: 2, CostCenterID: 10, PaymentMethodID: 2, CategoryID: 8, Kind: "EXPENSE", Date: day("2025-01-20"), Amount: decimal.NewFromInt(300), Included: true, ClosingID: id(7)},
		{ID: 3, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-02-03"), Amount: decimal.NewFromInt(50)},
	}
	s.Closings = []ClosingRow{{
		ID: 7, CostCenterID: 10, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "APPROVED",
		Income: decimal.NewFromInt(1000), Expense: decimal.NewFromInt(300),
		Apportionment: decimal.NewFromInt(70), FinalBalance: decimal.NewFromInt(630),
	}}
	s.Items = []ItemRow{{ID: 1, ClosingID: 7, DestinationID: 1, Amount: decimal.NewFromInt(70)}}

	assert.Empty(t, Check(s, DefaultOptions()))
}

func TestDeletedCostCenterIsOneCriticalInvalidReference(t *testing.T) {
	s := baseSnapshot()
	s.CostCenters = append(s.CostCenters, CostCenterRef{ID: 20, Name: "Congregação Sul", Deleted: true})
	s.Entries = []EntryRow{
		{ID: 42, CostCenterID: 20, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-03-01"), Amount: decimal.NewFromInt(10)},
	}

	findings := Check(s, DefaultOptions())
	require.Len(t, findings, 1)
	assert.Equal(t, TypeInvalidReference, findings[0].Type)
	assert.Equal(t, "Referência Inválida", findings[0].Type.Label())
	assert.Equal(t, SeverityCritical, findings[0].Severity)
	assert.Equal(t, int64(42), findings[0].EntityID)
	assert.Equal(t, Counts{Critical: 1}, CountFindings(findings))
}

func TestDuplicateWithinWindow(t *testing.T) {
	s := baseSnapshot()
	s.Entries = []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-03-01"), Amount: decimal.RequireFromString("150.00")},
		{ID: 2, CostCenterID: 10, PaymentMethodID: 2, CategoryID: 5, Kind: "INCOME", Date: day("2025-03-03"), Amount: decimal.RequireFromString("150")},
		{ID: 3, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-03-20"), Amount: decimal.RequireFromString("150")},
	}

	dups := ofType(Check(s, DefaultOptions()), TypeDuplicateEntry)
	require.Len(t, dups, 1)
	assert.Equal(t, int64(2), dups[0].EntityID)
	assert.Equal(t, SeverityWarning, dups[0].Severity)
}

func TestTotalsMismatchAndBalances(t *testing.T) {
	s := baseSnapshot()
	s.Entries = []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-01-05"), Amount: decimal.NewFromInt(100), Included: true, ClosingID: id(7)},
	}
	s.Closings = []ClosingRow{
		{ID: 7, CostCenterID: 10, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "APPROVED",
			Income: decimal.NewFromInt(200), Expense: decimal.Zero, Apportionment: decimal.Zero, FinalBalance: decimal.NewFromInt(200)},
		{ID: 8, CostCenterID: 1, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "PROCESSED",
			Income: decimal.Zero, Expense: decimal.Zero, Apportionment: decimal.Zero, FinalBalance: decimal.Zero},
	}

	findings := Check(s, DefaultOptions())
	mismatch := ofType(findings, TypeTotalsMismatch)
	require.Len(t, mismatch, 1)
	assert.Equal(t, int64(7), mismatch[0].EntityID)

	zero := ofType(findings, TypeZeroBalance)
	require.Len(t, zero, 1)
	assert.Equal(t, SeverityInfo, zero[0].Severity)
	assert.Equal(t, SeverityCritical, findings[0].Severity, "critical findings sort first")
}

func TestNegativeBalanceWarning(t *testing.T) {
	s := baseSnapshot()
	s.Entries = []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 8, Kind: "EXPENSE", Date: day("2025-01-05"), Amount: decimal.NewFromInt(40), Included: true, ClosingID: id(7)},
	}
	s.Closings = []ClosingRow{{ID: 7, CostCenterID: 10, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "APPROVED",
		Income: decimal.Zero, Expense: decimal.NewFromInt(40), Apportionment: decimal.Zero, FinalBalance: decimal.NewFromInt(-40)}}

	findings := Check(s, DefaultOptions())
	require.Len(t, findings, 1)
	assert.Equal(t, TypeNegativeBalance, findings[0].Type)
}

func TestInclusionAndOverlap(t *testing.T) {
	s := baseSnapshot()
	s.Entries = []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2025-01-05"), Amount: decimal.NewFromInt(10), Included: true, ClosingID: id(7)},
		{ID: 2, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 6, Kind: "INCOME", Date: day("2025-01-06"), Amount: decimal.NewFromInt(11), Included: true, ClosingID: id(99)},
		{ID: 3, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 7, Kind: "INCOME", Date: day("2025-01-10"), Amount: decimal.NewFromInt(12)},
		{ID: 4, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 8, Kind: "INCOME", Date: day("2025-01-11"), Amount: decimal.NewFromInt(13), Included: true},
	}
	s.Closings = []ClosingRow{
		{ID: 7, CostCenterID: 10, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "APPROVED",
			Income: decimal.NewFromInt(10), Expense: decimal.Zero, Apportionment: decimal.Zero, FinalBalance: decimal.NewFromInt(10)},
		{ID: 9, CostCenterID: 10, Start: day("2025-01-15"), End: day("2025-02-15"), Status: "APPROVED",
			Income: decimal.Zero, Expense: decimal.Zero, Apportionment: decimal.Zero, FinalBalance: decimal.NewFromInt(1)},
	}

	findings := Check(s, DefaultOptions())
	inclusion := ofType(findings, TypeInclusionMismatch)
	var ids []int64
	for _, f := range inclusion {
		ids = append(ids, f.EntityID)
	}
	assert.ElementsMatch(t, []int64{2, 3, 4}, ids)

	overlap := ofType(findings, TypeApprovedOverlap)
	require.Len(t, overlap, 1)
	assert.Equal(t, int64(9), overlap[0].EntityID)
}

func TestOrphanApportionment(t *testing.T) {
	s := baseSnapshot()
	s.Closings = []ClosingRow{{ID: 3, CostCenterID: 10, Start: day("2025-01-01"), End: day("2025-01-31"), Status: "PENDING"}}
	s.Items = []ItemRow{
		{ID: 1, ClosingID: 3, DestinationID: 1, Amount: decimal.NewFromInt(5)},
		{ID: 2, ClosingID: 404, DestinationID: 1, Amount: decimal.NewFromInt(5)},
	}

	orphans := ofType(Check(s, DefaultOptions()), TypeOrphanApportionment)
	require.Len(t, orphans, 2)
	assert.Equal(t, "apportionment_item", orphans[0].Entity)
}

func TestClosingStraddlingWindowKeepsItsEntries(t *testing.T) {
	since := day("2024-01-15")
	closings := []ClosingRow{{
		ID: 7, CostCenterID: 10, Start: day("2024-01-01"), End: day("2024-01-31"), Status: "APPROVED",
		Income: decimal.NewFromInt(1000), Expense: decimal.Zero,
		Apportionment: decimal.Zero, FinalBalance: decimal.NewFromInt(1000),
	}}
	stored := []EntryRow{
		{ID: 1, CostCenterID: 10, PaymentMethodID: 1, CategoryID: 5, Kind: "INCOME", Date: day("2024-01-05"), Amount: decimal.NewFromInt(400), Included: true, ClosingID: id(7)},
		{ID: 2, CostCenterID: 10, PaymentMethodID: 2, CategoryID: 5, Kind: "INCOME", Date: day("2024-01-20"), Amount: decimal.NewFromInt(600), Included: true, ClosingID: id(7)},
	}

	from := EntryWindow(since, closings)
	require.Equal(t, day("2024-01-01"), from)

	s := baseSnapshot()
	s.Closings = closings
	for _, e := range stored {
		if !e.Date.Before(from) {
			s.Entries = append(s.Entries, e)
		}
	}
	require.Len(t, s.Entries, 2)
	assert.Empty(t, ofType(Check(s, DefaultOptions()), TypeTotalsMismatch))
}

func TestEntryWindowWithoutStraddlingClosing(t *testing.T) {
	since := day("2024-01-15")
	closings := []ClosingRow{{ID: 8, Start: day("2024-02-01"), End: day("2024-02-29")}}
	assert.Equal(t, since, EntryWindow(since, closings))
	assert.Equal(t, since, EntryWindow(since, nil))
}
