package costcenters

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type memoryRepo struct {
	items  map[int64]CostCenter
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]CostCenter)}
}

func (r *memoryRepo) List(_ context.Context, includeDeleted bool) ([]CostCenter, error) {
	var out []CostCenter
	for _, cc := range r.items {
		if cc.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (CostCenter, error) {
	cc, ok := r.items[id]
	if !ok {
		return CostCenter{}, ErrNotFound
	}
	return cc, nil
}

func (r *memoryRepo) Insert(_ context.Context, in Input) (CostCenter, error) {
	r.nextID++
	now := time.Now()
	cc := CostCenter{ID: r.nextID, Name: in.Name, Type: in.Type, Active: in.Active, CreatedAt: now, UpdatedAt: now}
	r.items[cc.ID] = cc
	return cc, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, in Input) (CostCenter, error) {
	cc, ok := r.items[id]
	if !ok || cc.DeletedAt != nil {
		return CostCenter{}, ErrNotFound
	}
	cc.Name, cc.Type, cc.Active = in.Name, in.Type, in.Active
	r.items[id] = cc
	return cc, nil
}

func (r *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	cc, ok := r.items[id]
	if !ok || cc.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	cc.DeletedAt = &now
	cc.Active = false
	r.items[id] = cc
	return nil
}

func (r *memoryRepo) HasHeadquarters(_ context.Context, excludeID int64) (bool, error) {
	for _, cc := range r.items {
		if cc.Type == TypeHeadquarters && cc.DeletedAt == nil && cc.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Log(_ context.Context, entry shared.AuditLog) {
	a.actions = append(a.actions, entry.Action)
}

func TestCreateRejectsSecondHeadquarters(t *testing.T) {
	ctx := context.Background()
	audit := &recordingAudit{}
	svc := NewService(newMemoryRepo(), audit)

	hq, err := svc.Create(ctx, 1, Input{Name: " Sede Central ", Type: TypeHeadquarters, Active: true})
	require.NoError(t, err)
	require.Equal(t, "Sede Central", hq.Name)

	_, err = svc.Create(ctx, 1, Input{Name: "Outra sede", Type: TypeHeadquarters, Active: true})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Update(ctx, 1, hq.ID, Input{Name: "Sede", Type: TypeHeadquarters, Active: true})
	require.NoError(t, err)
	require.Equal(t, []string{"costcenter.create", "costcenter.update"}, audit.actions)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.Create(context.Background(), 1, Input{Name: "  ", Type: "CHURCH"})
	var verrs shared.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
}

func TestDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	cc, err := svc.Create(ctx, 1, Input{Name: "Congregação Norte", Type: TypeCongregation, Active: true})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, 1, cc.ID))

	live, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, live)

	stored, err := svc.Get(ctx, cc.ID)
	require.NoError(t, err)
	require.False(t, stored.Usable())

	require.ErrorIs(t, svc.Delete(ctx, 1, cc.ID), shared.ErrNotFound)
}
