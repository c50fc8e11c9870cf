package closing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

const (
	hqID          int64 = 1
	congregationA int64 = 10
	congregationB int64 = 20

	adminUser   int64 = 100
	generalUser int64 = 101
	localA      int64 = 102
	localB      int64 = 103
	pastorUser  int64 = 104
)

type memEntry struct {
	line         EntryLine
	costCenterID int64
	deleted      bool
	closingID    int64
	includedAt   *time.Time
}

type memState struct {
	costCenters map[int64]costcenters.CostCenter
	closings    map[int64]Closing
	entries     map[int64]memEntry
	details     map[int64][]EntryLine
	items       map[int64][]apportionment.Item
	rules       []apportionment.Rule
	nextID      int64
}

func (s memState) clone() memState {
	out := memState{
		costCenters: make(map[int64]costcenters.CostCenter, len(s.costCenters)),
		closings:    make(map[int64]Closing, len(s.closings)),
		entries:     make(map[int64]memEntry, len(s.entries)),
		details:     make(map[int64][]EntryLine, len(s.details)),
		items:       make(map[int64][]apportionment.Item, len(s.items)),
		rules:       append([]apportionment.Rule(nil), s.rules...),
		nextID:      s.nextID,
	}
	for k, v := range s.costCenters {
		out.costCenters[k] = v
	}
	for k, v := range s.closings {
		out.closings[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.details {
		out.details[k] = v
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	return out
}

// memoryRepo serialises transactions and rolls back on error.
type memoryRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{st: memState{
		costCenters: map[int64]costcenters.CostCenter{
			hqID:          {ID: hqID, Name: "Sede", Type: costcenters.TypeHeadquarters, Active: true},
			congregationA: {ID: congregationA, Name: "Congregação A", Type: costcenters.TypeCongregation, Active: true},
			congregationB: {ID: congregationB, Name: "Congregação B", Type: costcenters.TypeCongregation, Active: true},
		},
		closings: map[int64]Closing{},
		entries:  map[int64]memEntry{},
		details:  map[int64][]EntryLine{},
		items:    map[int64][]apportionment.Item{},
		nextID:   1000,
	}}
}

func (m *memoryRepo) id() int64 {
	m.st.nextID++
	return m.st.nextID
}

func (m *memoryRepo) addEntry(ccID int64, kind masterdata.Kind, box masterdata.CashBox, day string, amount string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.st.entries[id] = memEntry{
		costCenterID: ccID,
		line: EntryLine{
			EntryID: id, Kind: kind, Date: mustDay(day), Amount: decimal.RequireFromString(amount),
			CategoryID: 1, CategoryName: "Dízimos", PaymentMethodID: 1, PaymentMethodName: "Dinheiro", CashBox: box,
		},
	}
	return id
}

func (m *memoryRepo) addRule(origin, destination int64, pct string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.rules = append(m.st.rules, apportionment.Rule{
		ID: m.id(), OriginID: origin, DestinationID: destination,
		Percentage: decimal.RequireFromString(pct), Active: true,
	})
}

func (m *memoryRepo) entry(id int64) memEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entries[id]
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Closing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.closings[id]
	if !ok {
		return Closing{}, ErrClosingNotFound
	}
	return c, nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Closing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Closing
	for _, c := range m.st.closings {
		if filter.CostCenterID > 0 && c.CostCenterID != filter.CostCenterID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) Details(_ context.Context, closingID int64) ([]Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Detail
	for _, l := range m.st.details[closingID] {
		out = append(out, Detail{ClosingID: closingID, EntryLine: l})
	}
	return out, nil
}

func (m *memoryRepo) Items(ctx context.Context, closingID int64) ([]apportionment.Item, error) {
	return m.ItemsForClosing(ctx, closingID)
}

func (m *memoryRepo) Selectable(context.Context) ([]Closing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Closing
	for _, c := range m.st.closings {
		if c.Status == StatusApproved && c.CostCenterType != costcenters.TypeHeadquarters && c.ProcessedByClosingID == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryRepo) LockCostCenter(_ context.Context, id int64) (costcenters.CostCenter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.st.costCenters[id]
	if !ok {
		return costcenters.CostCenter{}, shared.ErrNotFound
	}
	return cc, nil
}

func (m *memoryRepo) LockClosing(ctx context.Context, id int64) (Closing, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) HasApprovedOverlap(_ context.Context, ccID int64, start, end time.Time, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.closings {
		if c.ID == excludeID || c.CostCenterID != ccID || !c.Status.Locked() {
			continue
		}
		if c.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) HasProcessed(_ context.Context, closingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.closings {
		if c.ProcessedByClosingID != nil && *c.ProcessedByClosingID == closingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) EligibleEntries(_ context.Context, ccID int64, start, end time.Time, closingID int64) ([]EntryLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EntryLine
	for _, e := range m.st.entries {
		if e.costCenterID != ccID || e.deleted {
			continue
		}
		if e.line.Date.Before(start) || e.line.Date.After(end) {
			continue
		}
		if e.closingID != 0 && (closingID == 0 || e.closingID != closingID) {
			continue
		}
		out = append(out, e.line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

func (m *memoryRepo) InsertClosing(_ context.Context, c Closing) (Closing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.st.closings[c.ID] = c
	return c, nil
}

func (m *memoryRepo) UpdateClosing(_ context.Context, c Closing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.closings[c.ID]; !ok {
		return ErrClosingNotFound
	}
	m.st.closings[c.ID] = c
	return nil
}

func (m *memoryRepo) MarkEntriesIncluded(_ context.Context, closingID int64, ids []int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := m.st.entries[id]
		if !ok || e.deleted || (e.closingID != 0 && e.closingID != closingID) {
			continue
		}
		e.closingID = closingID
		e.includedAt = &at
		m.st.entries[id] = e
		n++
	}
	return n, nil
}

func (m *memoryRepo) ReleaseEntries(_ context.Context, closingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.st.entries {
		if e.closingID == closingID {
			e.closingID, e.includedAt = 0, nil
			m.st.entries[id] = e
		}
	}
	return nil
}

func (m *memoryRepo) InsertDetails(_ context.Context, closingID int64, lines []EntryLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.details[closingID] = append([]EntryLine(nil), lines...)
	return nil
}

func (m *memoryRepo) DeleteDetails(_ context.Context, closingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.details, closingID)
	return nil
}

func (m *memoryRepo) ActiveRules(_ context.Context, originID int64) ([]apportionment.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []apportionment.Rule
	for _, r := range m.st.rules {
		if r.OriginID == originID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertItems(_ context.Context, items []apportionment.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		it.ID = m.id()
		m.st.items[it.ClosingID] = append(m.st.items[it.ClosingID], it)
	}
	return nil
}

func (m *memoryRepo) DeleteItems(_ context.Context, closingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.items, closingID)
	return nil
}

func (m *memoryRepo) ItemsForClosing(_ context.Context, closingID int64) ([]apportionment.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]apportionment.Item(nil), m.st.items[closingID]...), nil
}

type accessTable map[int64]rbac.Access

func (t accessTable) Access(_ context.Context, userID int64) (rbac.Access, error) {
	a, ok := t[userID]
	if !ok {
		return rbac.Access{}, rbac.ErrUnknownUser
	}
	return a, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) Log(_ context.Context, entry shared.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, entry.Action)
}

func mustDay(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ccPtr(id int64) *int64 { return &id }

func newTestService(t *testing.T, opts Options) (*Service, *memoryRepo, *recordingAudit) {
	t.Helper()
	repo := newMemoryRepo()
	authz := rbac.NewServiceWithLoader(accessTable{
		adminUser:   {UserID: adminUser, Role: rbac.RoleAdministrator, Active: true},
		generalUser: {UserID: generalUser, Role: rbac.RoleTreasurerGeneral, Active: true},
		localA:      {UserID: localA, Role: rbac.RoleTreasurerLocal, CostCenterID: ccPtr(congregationA), Active: true},
		localB:      {UserID: localB, Role: rbac.RoleTreasurerLocal, CostCenterID: ccPtr(congregationB), Active: true},
		pastorUser:  {UserID: pastorUser, Role: rbac.RolePastor, Active: true},
	})
	audit := &recordingAudit{}
	clock := shared.FixedClock(time.Date(2025, 2, 5, 10, 0, 0, 0, time.UTC))
	return NewService(repo, authz, audit, clock, opts), repo, audit
}

func openJanuary(t *testing.T, svc *Service, ccID, actor int64) Closing {
	t.Helper()
	c, err := svc.Open(context.Background(), OpenInput{
		CostCenterID: ccID, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: actor,
	})
	require.NoError(t, err)
	return c
}

func TestApproveWorkedExample(t *testing.T) {
	svc, repo, audit := newTestService(t, Options{})
	income := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-05", "1000.00")
	expense := repo.addEntry(congregationA, masterdata.KindExpense, masterdata.CashBoxDigital, "2025-01-20", "300.00")
	repo.addRule(congregationA, hqID, "10")

	opened := openJanuary(t, svc, congregationA, localA)
	assert.Equal(t, StatusPending, opened.Status)
	assert.Equal(t, "1000.00", opened.Totals.Income.StringFixed(2))
	assert.Equal(t, "300.00", opened.Totals.Expense.StringFixed(2))
	assert.Equal(t, 2, opened.Totals.EntryCount)
	assert.Zero(t, repo.entry(income).closingID)

	approved, err := svc.Approve(context.Background(), opened.ID, generalUser)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "1000.00", approved.Totals.IncomePhysical.StringFixed(2))
	assert.Equal(t, "300.00", approved.Totals.ExpenseDigital.StringFixed(2))
	assert.Equal(t, "70.00", approved.TotalApportionment.StringFixed(2))
	assert.Equal(t, "630.00", approved.FinalBalance.StringFixed(2))
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, generalUser, *approved.ApprovedBy)

	items, err := svc.Items(context.Background(), approved.ID, generalUser)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, hqID, items[0].DestinationID)
	assert.Equal(t, "700.00", items[0].Base.StringFixed(2))
	assert.Equal(t, "70.00", items[0].Amount.StringFixed(2))

	details, err := svc.Details(context.Background(), approved.ID, localA)
	require.NoError(t, err)
	assert.Len(t, details, 2)

	for _, id := range []int64{income, expense} {
		e := repo.entry(id)
		assert.Equal(t, approved.ID, e.closingID)
		require.NotNil(t, e.includedAt)
	}
	assert.Contains(t, audit.actions, "closing.approve")
}

func TestApproveConcurrentOverlapConflict(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-20", "150.00")

	first := openJanuary(t, svc, congregationA, localA)
	second, err := svc.Open(context.Background(), OpenInput{
		CostCenterID: congregationA, Start: mustDay("2025-01-15"), End: mustDay("2025-02-15"), ActorID: generalUser,
	})
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Approve(context.Background(), id, generalUser)
		}(i, id)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestApproveTwiceSameClosingConflicts(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-20", "150.00")
	c := openJanuary(t, svc, congregationA, localA)

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := svc.Approve(context.Background(), c.ID, localA)
			errs <- err
		}()
	}
	close(start)
	first, second := <-errs, <-errs
	if first != nil {
		first, second = second, first
	}
	require.NoError(t, first)
	require.True(t, IsConflict(second), "got %v", second)
}

func TestRejectLeavesEntriesAvailable(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	entry := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-10", "80.00")
	c := openJanuary(t, svc, congregationA, localA)

	_, err := svc.Reject(context.Background(), c.ID, generalUser, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := svc.Reject(context.Background(), c.ID, generalUser, "valores divergentes")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "valores divergentes", rejected.RejectionReason)
	assert.Zero(t, repo.entry(entry).closingID)

	_, err = svc.Approve(context.Background(), c.ID, generalUser)
	require.ErrorIs(t, err, ErrInvalidTransition)

	again := openJanuary(t, svc, congregationA, localA)
	approved, err := svc.Approve(context.Background(), again.ID, generalUser)
	require.NoError(t, err)
	assert.Equal(t, approved.ID, repo.entry(entry).closingID)
}

func TestRecomputeIsIdempotentAndTracksNewEntries(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-03", "200.00")
	c := openJanuary(t, svc, congregationA, localA)

	first, err := svc.Recompute(context.Background(), c.ID, localA)
	require.NoError(t, err)
	second, err := svc.Recompute(context.Background(), c.ID, localA)
	require.NoError(t, err)
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, first.FinalBalance.String(), second.FinalBalance.String())

	repo.addEntry(congregationA, masterdata.KindExpense, masterdata.CashBoxPhysical, "2025-01-30", "50.00")
	third, err := svc.Recompute(context.Background(), c.ID, localA)
	require.NoError(t, err)
	assert.Equal(t, "50.00", third.Totals.Expense.StringFixed(2))
	assert.Equal(t, "150.00", third.FinalBalance.StringFixed(2))
}

func TestSubmitOnlyOnce(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-03", "200.00")
	c := openJanuary(t, svc, congregationA, localA)

	submitted, err := svc.Submit(context.Background(), c.ID, localA)
	require.NoError(t, err)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, StatusPending, submitted.Status)

	_, err = svc.Submit(context.Background(), c.ID, localA)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestExactlyOnceInclusion(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	jan := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-31", "10.00")
	feb := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-02-01", "20.00")
	other := repo.addEntry(congregationB, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-15", "30.00")

	january := openJanuary(t, svc, congregationA, localA)
	_, err := svc.Approve(context.Background(), january.ID, localA)
	require.NoError(t, err)

	_, err = svc.Open(context.Background(), OpenInput{
		CostCenterID: congregationA, Start: mustDay("2025-01-15"), End: mustDay("2025-02-28"), ActorID: localA,
	})
	require.ErrorIs(t, err, ErrOverlap)

	february, err := svc.Open(context.Background(), OpenInput{
		CostCenterID: congregationA, Start: mustDay("2025-02-01"), End: mustDay("2025-02-28"), ActorID: localA,
	})
	require.NoError(t, err)
	assert.Equal(t, "20.00", february.Totals.Income.StringFixed(2))
	_, err = svc.Approve(context.Background(), february.ID, localA)
	require.NoError(t, err)

	for _, id := range []int64{jan, feb, other} {
		e := repo.entry(id)
		if e.closingID == 0 {
			continue
		}
		c, err := repo.Get(context.Background(), e.closingID)
		require.NoError(t, err)
		assert.Equal(t, e.costCenterID, c.CostCenterID)
		assert.False(t, e.line.Date.Before(c.StartDate) || e.line.Date.After(c.EndDate))
	}
	assert.Zero(t, repo.entry(other).closingID)
}

func TestOpenValidation(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Open(ctx, OpenInput{CostCenterID: congregationA, Start: mustDay("2025-02-01"), End: mustDay("2025-01-01"), ActorID: localA})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Open(ctx, OpenInput{CostCenterID: congregationA, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: localA})
	require.ErrorIs(t, err, ErrNoEntries)

	repo.mu.Lock()
	cc := repo.st.costCenters[congregationB]
	cc.Active = false
	repo.st.costCenters[congregationB] = cc
	repo.mu.Unlock()
	_, err = svc.Open(ctx, OpenInput{CostCenterID: congregationB, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: generalUser})
	var verrs shared.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Fields(), "cost_center_id")

	allowEmpty, _, _ := newTestService(t, Options{AllowEmpty: true})
	empty, err := allowEmpty.Open(ctx, OpenInput{CostCenterID: congregationA, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: localA})
	require.NoError(t, err)
	assert.True(t, empty.FinalBalance.IsZero())
}

func TestAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-10", "80.00")

	_, err := svc.Open(ctx, OpenInput{CostCenterID: congregationA, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: pastorUser})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Open(ctx, OpenInput{CostCenterID: congregationA, Start: mustDay("2025-01-01"), End: mustDay("2025-01-31"), ActorID: localB})
	require.ErrorIs(t, err, shared.ErrForbidden)

	c := openJanuary(t, svc, congregationA, localA)
	for _, actor := range []int64{pastorUser, localB, 0} {
		_, err := svc.Approve(ctx, c.ID, actor)
		require.ErrorIs(t, err, shared.ErrForbidden, "actor %d", actor)
	}

	visibleToB, err := svc.List(ctx, localB, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, visibleToB)
	visibleToPastor, err := svc.List(ctx, pastorUser, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, visibleToPastor, 1)

	_, err = svc.Get(ctx, c.ID, localB)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecomputeRejectedAfterSubmit(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-03", "200.00")
	c := openJanuary(t, svc, congregationA, localA)
	submitted, err := svc.Submit(ctx, c.ID, localA)
	require.NoError(t, err)

	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-04", "50.00")
	_, err = svc.Recompute(ctx, c.ID, localA)
	require.ErrorIs(t, err, ErrSubmittedTotals)

	current, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted.Totals.Income.String(), current.Totals.Income.String())
	require.NotNil(t, current.SubmittedAt)
}

func TestProcessByHeadquarters(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	repo.addEntry(hqID, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-10", "5000.00")
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-05", "1000.00")
	repo.addEntry(congregationA, masterdata.KindExpense, masterdata.CashBoxPhysical, "2025-01-06", "300.00")
	repo.addRule(congregationA, hqID, "10")

	hq := openJanuary(t, svc, hqID, generalUser)
	_, err := svc.Approve(ctx, hq.ID, generalUser)
	require.NoError(t, err)
	a := openJanuary(t, svc, congregationA, localA)
	_, err = svc.Approve(ctx, a.ID, localA)
	require.NoError(t, err)

	selectable, err := svc.SelectableForHeadquarters(ctx, hq.ID, generalUser)
	require.NoError(t, err)
	require.Len(t, selectable, 1)
	assert.Equal(t, a.ID, selectable[0].ID)

	_, err = svc.ProcessByHeadquarters(ctx, hq.ID, []int64{a.ID}, localA)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.ProcessByHeadquarters(ctx, a.ID, []int64{hq.ID}, generalUser)
	require.ErrorIs(t, err, shared.ErrValidation)

	updated, err := svc.ProcessByHeadquarters(ctx, hq.ID, []int64{a.ID, a.ID}, generalUser)
	require.NoError(t, err)
	assert.Equal(t, "70.00", updated.TotalReceived.StringFixed(2))

	processed, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedByClosingID)
	assert.Equal(t, hq.ID, *processed.ProcessedByClosingID)

	_, err = svc.ProcessByHeadquarters(ctx, hq.ID, []int64{a.ID}, generalUser)
	require.ErrorIs(t, err, shared.ErrValidation)
	selectable, err = svc.SelectableForHeadquarters(ctx, hq.ID, generalUser)
	require.NoError(t, err)
	assert.Empty(t, selectable)
}

func TestReopenReleasesEntries(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	entry := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-05", "1000.00")
	repo.addRule(congregationA, hqID, "10")
	c := openJanuary(t, svc, congregationA, localA)
	_, err := svc.Approve(ctx, c.ID, generalUser)
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, c.ID, generalUser, "lançamento faltante")
	require.ErrorIs(t, err, shared.ErrForbidden)

	reopened, err := svc.Reopen(ctx, c.ID, adminUser, "lançamento faltante")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reopened.Status)
	assert.Nil(t, reopened.ApprovedAt)
	assert.Contains(t, reopened.Notes, "lançamento faltante")
	assert.Zero(t, repo.entry(entry).closingID)

	items, err := repo.Items(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	details, err := repo.Details(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, details)

	again, err := svc.Approve(ctx, c.ID, generalUser)
	require.NoError(t, err)
	assert.Equal(t, again.ID, repo.entry(entry).closingID)
}

func TestReopenRefusesHeadquartersWithProcessedClosings(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	repo.addEntry(hqID, masterdata.KindIncome, masterdata.CashBoxDigital, "2025-01-10", "5000.00")
	repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-05", "1000.00")
	repo.addRule(congregationA, hqID, "10")

	hq := openJanuary(t, svc, hqID, generalUser)
	_, err := svc.Approve(ctx, hq.ID, generalUser)
	require.NoError(t, err)
	a := openJanuary(t, svc, congregationA, localA)
	_, err = svc.Approve(ctx, a.ID, localA)
	require.NoError(t, err)
	_, err = svc.ProcessByHeadquarters(ctx, hq.ID, []int64{a.ID}, generalUser)
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, hq.ID, adminUser, "correção")
	require.ErrorIs(t, err, ErrHasProcessed)

	current, err := repo.Get(ctx, hq.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, current.Status)
	assert.Equal(t, "100.00", current.TotalReceived.StringFixed(2))
	_, err = svc.Reject(ctx, hq.ID, adminUser, "correção")
	require.ErrorIs(t, err, ErrInvalidTransition)

	processed, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedByClosingID)
	assert.Equal(t, hq.ID, *processed.ProcessedByClosingID)
}

func TestFailedApproveRollsBack(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	entry := repo.addEntry(congregationA, masterdata.KindIncome, masterdata.CashBoxPhysical, "2025-01-05", "1000.00")
	c := openJanuary(t, svc, congregationA, localA)

	svc.repo = &stealingRepo{memoryRepo: repo, victim: entry}

	_, err := svc.Approve(ctx, c.ID, generalUser)
	require.True(t, IsConflict(err), "got %v", err)
	current, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)
	details, err := repo.Details(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, details)
	assert.Zero(t, repo.entry(entry).closingID)
}

// stealingRepo assigns victim to a foreign closing right before marking.
type stealingRepo struct {
	*memoryRepo
	victim int64
}

func (s *stealingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return s.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, stealingTx{memoryRepo: s.memoryRepo, victim: s.victim})
	})
}

type stealingTx struct {
	*memoryRepo
	victim int64
}

func (s stealingTx) MarkEntriesIncluded(ctx context.Context, closingID int64, ids []int64, at time.Time) (int64, error) {
	s.mu.Lock()
	e := s.st.entries[s.victim]
	e.closingID = 999999
	s.st.entries[s.victim] = e
	s.mu.Unlock()
	return s.memoryRepo.MarkEntriesIncluded(ctx, closingID, ids, at)
}
