// Package auth signs users in with e-mail and password and binds the
// account to the Redis session.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/users"
)

// Credentials looks accounts up and records successful sign-ins.
type Credentials interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// Service wraps authentication business rules.
type Service struct {
	creds  Credentials
	audit  shared.AuditSink
	clock  shared.Clock
	logger *slog.Logger
	// dummy keeps unknown e-mails as slow as wrong passwords.
	dummy []byte
}

// NewService constructs a new Service.
func NewService(creds Credentials, audit shared.AuditSink, clock shared.Clock, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("tesouraria-dummy-password"), bcrypt.DefaultCost)
	return &Service{creds: creds, audit: audit, clock: clock, logger: logger, dummy: dummy}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return users.User{}, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.Active {
		return users.User{}, shared.ErrInvalidCredentials
	}
	now := s.clock.Now()
	if err := s.creds.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("touch login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	s.audit.Log(ctx, shared.AuditLog{ActorID: user.ID, Action: "auth.login", Entity: "user", EntityID: strconv.FormatInt(user.ID, 10), At: now})
	return user, nil
}
