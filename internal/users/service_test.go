package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	users map[int64]User
	next  int64
}

func newMemoryRepo(seed ...User) *memoryRepo {
	m := &memoryRepo{users: map[int64]User{}}
	for _, u := range seed {
		m.users[u.ID] = u
		if u.ID > m.next {
			m.next = u.ID
		}
	}
	return m
}

func (m *memoryRepo) List(context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryRepo) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryRepo) Insert(_ context.Context, in Input, hash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == in.Email {
			return User{}, ErrEmailTaken
		}
	}
	m.next++
	u := User{ID: m.next, Email: in.Email, Name: in.Name, Role: in.Role, CostCenterID: in.CostCenterID, Active: in.Active, PasswordHash: hash}
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, in Input) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.Email, u.Name, u.Role, u.CostCenterID, u.Active = in.Email, in.Name, in.Role, in.CostCenterID, in.Active
	m.users[id] = u
	return u, nil
}

func (m *memoryRepo) SetPassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *memoryRepo) TouchLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.LastLoginAt = &at
	m.users[id] = u
	return nil
}

type repoAccess struct{ repo *memoryRepo }

func (a repoAccess) Access(ctx context.Context, id int64) (rbac.Access, error) {
	u, err := a.repo.Get(ctx, id)
	if err != nil {
		return rbac.Access{}, rbac.ErrUnknownUser
	}
	return rbac.Access{UserID: u.ID, Role: u.Role, CostCenterID: u.CostCenterID, Active: u.Active}, nil
}

type costCenterTable map[int64]costcenters.CostCenter

func (t costCenterTable) Get(_ context.Context, id int64) (costcenters.CostCenter, error) {
	cc, ok := t[id]
	if !ok {
		return costcenters.CostCenter{}, costcenters.ErrNotFound
	}
	return cc, nil
}

func ptr(v int64) *int64 { return &v }

func newService() (*Service, *memoryRepo) {
	repo := newMemoryRepo(
		User{ID: 1, Email: "admin@igreja.org", Name: "Admin", Role: rbac.RoleAdministrator, Active: true},
		User{ID: 2, Email: "pastor@igreja.org", Name: "Pastor", Role: rbac.RolePastor, Active: true},
	)
	ccs := costCenterTable{
		5: {ID: 5, Name: "Congregação Sul", Type: costcenters.TypeCongregation, Active: true},
		6: {ID: 6, Name: "Antiga", Type: costcenters.TypeCongregation, Active: false},
	}
	svc := NewService(repo, ccs, repoAccess{repo}, nil)
	svc.cost = bcrypt.MinCost
	return svc, repo
}

func TestCreateHashesPasswordAndScopesLocalTreasurer(t *testing.T) {
	svc, repo := newService()
	u, err := svc.Create(context.Background(), 1, Input{
		Email: " Tesoureira@Igreja.org ", Name: "Joana", Role: rbac.RoleTreasurerLocal,
		CostCenterID: ptr(5), Active: true, Password: "segredo123",
	})
	require.NoError(t, err)
	assert.Equal(t, "tesoureira@igreja.org", u.Email)
	stored, _ := repo.Get(context.Background(), u.ID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("segredo123")))
}

func TestCreateValidatesRoleScope(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Create(context.Background(), 1, Input{Email: "a@b.org", Name: "A", Role: rbac.RoleTreasurerLocal, Active: true, Password: "segredo123"})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "cost_center_id")

	_, err = svc.Create(context.Background(), 1, Input{Email: "a@b.org", Name: "A", Role: rbac.RoleTreasurerLocal, CostCenterID: ptr(6), Active: true, Password: "segredo123"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), 1, Input{Email: "a@b.org", Name: "A", Role: rbac.RolePastor, Active: true, Password: "curta"})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "password")
}

func TestOnlyAdministratorsManageUsers(t *testing.T) {
	svc, _ := newService()
	_, err := svc.List(context.Background(), 2)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Create(context.Background(), 2, Input{Email: "x@y.org", Name: "X", Role: rbac.RolePastor, Active: true, Password: "segredo123"})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAdministratorCannotLockThemselvesOut(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Deactivate(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrSelfLockout)
	_, err = svc.Update(context.Background(), 1, 1, Input{Email: "admin@igreja.org", Name: "Admin", Role: rbac.RolePastor, Active: true})
	assert.ErrorIs(t, err, ErrSelfLockout)
}

func TestDeactivateAndDuplicateEmail(t *testing.T) {
	svc, _ := newService()
	u, err := svc.Deactivate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, u.Active)

	_, err = svc.Create(context.Background(), 1, Input{Email: "pastor@igreja.org", Name: "Outro", Role: rbac.RolePastor, Active: true, Password: "segredo123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestResetPassword(t *testing.T) {
	svc, repo := newService()
	require.NoError(t, svc.ResetPassword(context.Background(), 1, 2, "novasenha1"))
	stored, _ := repo.Get(context.Background(), 2)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("novasenha1")))
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), 1, 2, "x"), shared.ErrValidation)
}
