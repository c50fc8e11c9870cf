package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type memoryRepo struct {
	entries map[int64]Entry
	covered map[int64][2]time.Time
	nextID  int64

	// onLock runs once the lock is granted, standing in for a closing
	// approval that committed while the writer waited.
	onLock   func(r *memoryRepo)
	held     []int64
	locks    [][]int64
	unlocked []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: map[int64]Entry{}, covered: map[int64][2]time.Time{}}
}

func (r *memoryRepo) List(_ context.Context, filter Filter) ([]Entry, int, error) {
	var out []Entry
	for _, e := range r.entries {
		if filter.CostCenterIDs != nil && !contains(filter.CostCenterIDs, e.CostCenterID) {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Totals(ctx context.Context, filter Filter) (Totals, error) {
	entries, _, _ := r.List(ctx, filter)
	t := Totals{}
	for _, e := range entries {
		if e.Kind == masterdata.KindIncome {
			t.Income = t.Income.Add(e.Amount)
		} else {
			t.Expense = t.Expense.Add(e.Amount)
		}
	}
	return t, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok || e.DeletedAt != nil {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (r *memoryRepo) Insert(_ context.Context, in Input, actorID int64) (Entry, error) {
	r.nextID++
	e := Entry{
		ID: r.nextID, Kind: in.Kind, Date: in.Date, Amount: in.Amount, CostCenterID: in.CostCenterID,
		PaymentMethodID: in.PaymentMethodID, CategoryID: in.CategoryID, Description: in.Description, CreatedBy: actorID,
	}
	r.entries[e.ID] = e
	return e, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, in Input) (Entry, error) {
	e := r.entries[id]
	e.Amount, e.Date, e.Description = in.Amount, in.Date, in.Description
	r.entries[id] = e
	return e, nil
}

func (r *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	e := r.entries[id]
	now := time.Now()
	e.DeletedAt = &now
	r.entries[id] = e
	return nil
}

func (r *memoryRepo) ApprovedClosingCovers(_ context.Context, costCenterID int64, date time.Time) (bool, error) {
	if !contains(r.held, costCenterID) {
		r.unlocked = append(r.unlocked, "covers")
	}
	rng, ok := r.covered[costCenterID]
	return ok && !date.Before(rng[0]) && !date.After(rng[1]), nil
}

func (r *memoryRepo) WithCostCenterLock(_ context.Context, costCenterIDs []int64, fn func(tx Repository) error) error {
	r.held = append([]int64(nil), costCenterIDs...)
	r.locks = append(r.locks, r.held)
	defer func() { r.held = nil }()
	if r.onLock != nil {
		r.onLock(r)
	}
	return fn(r)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type stubCostCenters map[int64]costcenters.CostCenter

func (s stubCostCenters) Get(_ context.Context, id int64) (costcenters.CostCenter, error) {
	cc, ok := s[id]
	if !ok {
		return costcenters.CostCenter{}, costcenters.ErrNotFound
	}
	return cc, nil
}

type stubMasterdata struct{}

func (stubMasterdata) GetPaymentMethod(_ context.Context, id int64) (masterdata.PaymentMethod, error) {
	if id != 1 {
		return masterdata.PaymentMethod{}, masterdata.ErrPaymentMethodNotFound
	}
	return masterdata.PaymentMethod{ID: 1, Name: "Dinheiro", CashBox: masterdata.CashBoxPhysical, Active: true}, nil
}

func (stubMasterdata) GetCategory(_ context.Context, id int64) (masterdata.Category, error) {
	switch id {
	case 10:
		return masterdata.Category{ID: 10, Name: "Dízimos", Kind: masterdata.KindIncome, Active: true}, nil
	case 20:
		return masterdata.Category{ID: 20, Name: "Energia", Kind: masterdata.KindExpense, Active: true}, nil
	}
	return masterdata.Category{}, masterdata.ErrCategoryNotFound
}

func (stubMasterdata) GetCounterparty(_ context.Context, _ masterdata.Party, _ int64) (masterdata.Counterparty, error) {
	return masterdata.Counterparty{}, masterdata.ErrCounterpartyNotFound
}

type stubAccess map[int64]rbac.Access

func (s stubAccess) Access(_ context.Context, userID int64) (rbac.Access, error) {
	return s[userID], nil
}

const (
	generalUser = int64(1)
	localUser   = int64(2)
)

func newTestService(repo *memoryRepo) *Service {
	own := int64(2)
	return NewService(repo,
		stubCostCenters{
			1: {ID: 1, Name: "Sede", Type: costcenters.TypeHeadquarters, Active: true},
			2: {ID: 2, Name: "Congregação Norte", Type: costcenters.TypeCongregation, Active: true},
			3: {ID: 3, Name: "Inativa", Type: costcenters.TypeCongregation},
		},
		stubMasterdata{},
		stubAccess{
			generalUser: {UserID: generalUser, Role: rbac.RoleTreasurerGeneral, Active: true},
			localUser:   {UserID: localUser, Role: rbac.RoleTreasurerLocal, CostCenterID: &own, Active: true},
		},
		nil,
	)
}

func income(costCenterID int64, amount string) Input {
	return Input{
		Kind:            masterdata.KindIncome,
		Date:            time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC),
		Amount:          decimal.RequireFromString(amount),
		CostCenterID:    costCenterID,
		PaymentMethodID: 1,
		CategoryID:      10,
		Description:     " Culto de domingo ",
	}
}

func TestCreateEntry(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	entry, err := svc.Create(context.Background(), localUser, income(2, "150.00"))
	require.NoError(t, err)
	require.Equal(t, "Culto de domingo", entry.Description)
	require.Equal(t, 0, entry.Date.Hour())
}

func TestCreateEntryValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	in := income(2, "10.005")
	_, err := svc.Create(ctx, generalUser, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = income(2, "10")
	in.CategoryID = 20
	_, err = svc.Create(ctx, generalUser, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, generalUser, income(3, "10"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTreasurerLocalLimitedToOwnCostCenter(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Create(context.Background(), localUser, income(1, "10"))
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Create(context.Background(), generalUser, income(1, "10"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), localUser, income(2, "20"))
	require.NoError(t, err)

	entries, totals, page, err := svc.List(context.Background(), localUser, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "20", totals.Income.String())
	require.Equal(t, 1, page.Total)
}

func TestIncludedEntriesAreLocked(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	entry, err := svc.Create(ctx, generalUser, income(2, "100"))
	require.NoError(t, err)
	closingID := int64(9)
	locked := repo.entries[entry.ID]
	locked.IncludedInClosing, locked.ClosingID = true, &closingID
	repo.entries[entry.ID] = locked

	_, err = svc.Update(ctx, generalUser, entry.ID, income(2, "200"))
	require.ErrorIs(t, err, ErrEntryLocked)
	require.ErrorIs(t, svc.Delete(ctx, generalUser, entry.ID), ErrEntryLocked)
}

func TestEntryInsideApprovedClosingRejected(t *testing.T) {
	repo := newMemoryRepo()
	repo.covered[2] = [2]time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	svc := newTestService(repo)
	_, err := svc.Create(context.Background(), generalUser, income(2, "50"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApprovalCommittedWhileWaitingForLockBlocksCreate(t *testing.T) {
	repo := newMemoryRepo()
	repo.onLock = func(r *memoryRepo) {
		r.covered[2] = [2]time.Time{
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		}
	}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), generalUser, income(2, "50"))
	require.ErrorIs(t, err, ErrPeriodClosed)
	require.Empty(t, repo.entries)
	require.Equal(t, [][]int64{{2}}, repo.locks)
	require.Empty(t, repo.unlocked)
}

func TestEntryWritesCheckPeriodUnderLock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	entry, err := svc.Create(ctx, generalUser, income(2, "100"))
	require.NoError(t, err)

	moved := income(1, "100")
	_, err = svc.Update(ctx, generalUser, entry.ID, moved)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, generalUser, entry.ID))

	require.Equal(t, [][]int64{{2}, {1, 2}, {2}}, repo.locks)
	require.Empty(t, repo.unlocked)
}

func TestDeleteRejectedOnceApprovalCoversEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	entry, err := svc.Create(ctx, generalUser, income(2, "100"))
	require.NoError(t, err)
	repo.onLock = func(r *memoryRepo) {
		r.covered[2] = [2]time.Time{
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		}
	}

	require.ErrorIs(t, svc.Delete(ctx, generalUser, entry.ID), ErrPeriodClosed)
	_, err = repo.Get(ctx, entry.ID)
	require.NoError(t, err)
}
