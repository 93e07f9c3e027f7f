package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/ephemeral"
	"github.com/pribylovaa/clinic-auth/internal/lockout"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/revocation"
	"github.com/pribylovaa/clinic-auth/internal/storage/memory"
	"github.com/pribylovaa/clinic-auth/internal/tokens"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	doctorID   = "doctor@clinic.example"
	nurseID    = "nurse@clinic.example"
	adminID    = "admin@clinic.example"
	inactiveID = "retired@clinic.example"
	password   = "Corr3ct!Horse"
	patientID  = int64(101)
)

// fakeClock - общий управляемый источник времени для всех компонентов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder - синхронный Auditor для проверок журнала.
type recorder struct {
	mu   sync.Mutex
	recs []models.AuditRecord
}

func (r *recorder) Record(_ context.Context, rec models.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) last(t *testing.T) models.AuditRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.recs, "no audit records")
	return r.recs[len(r.recs)-1]
}

func (r *recorder) count(action string, outcome models.Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recs {
		if rec.Action == action && rec.Outcome == outcome {
			n++
		}
	}
	return n
}

type env struct {
	svc       *Service
	users     *memory.Users
	resources *memory.Resources
	registry  *revocation.Memory
	tokens    *tokens.Service
	audit     *recorder
	clock     *fakeClock
}

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:    "access-secret-for-unit-tests-0123456789",
		RefreshSecret:   "refresh-secret-for-unit-tests-012345678",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Issuer:          "clinic-auth",
	}
}

func newCreds(t *testing.T) *credentials.Manager {
	t.Helper()
	m, err := credentials.New(credentials.DefaultPolicy(), bcrypt.MinCost)
	require.NoError(t, err)
	return m
}

func account(t *testing.T, creds *credentials.Manager, identifier string, role models.Role, active bool) *models.Account {
	t.Helper()
	hash, err := creds.Hash(password)
	require.NoError(t, err)
	return &models.Account{
		ID:           uuid.New(),
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         role,
		Active:       active,
	}
}

// newEnv собирает Service на хранилищах в памяти.
func newEnv(t *testing.T) *env {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	creds := newCreds(t)

	users := memory.NewUsers(
		account(t, creds, doctorID, models.RoleDoctor, true),
		account(t, creds, nurseID, models.RoleNurse, true),
		account(t, creds, adminID, models.RoleAdmin, true),
		account(t, creds, inactiveID, models.RoleDoctor, false),
	)
	resources := memory.NewResources(patientID)
	registry := revocation.NewMemory()
	tok := tokens.New(testAuthCfg(), tokens.WithClock(clock.Now))
	rec := &recorder{}

	svc := New(Deps{
		Users:       users,
		Resources:   resources,
		Credentials: creds,
		Tokens:      tok,
		Registry:    registry,
		Lockout:     lockout.New(users, config.LockoutConfig{Threshold: 5, Duration: 30 * time.Minute}, lockout.WithClock(clock.Now)),
		Ephemeral:   ephemeral.New(resources, config.ResourceTokenConfig{DefaultTTL: time.Hour, MaxTTL: 24 * time.Hour}, ephemeral.WithClock(clock.Now)),
		Audit:       rec,
	}, config.TimeoutConfig{Store: time.Second})

	return &env{
		svc:       svc,
		users:     users,
		resources: resources,
		registry:  registry,
		tokens:    tok,
		audit:     rec,
		clock:     clock,
	}
}

func (e *env) login(t *testing.T, identifier string) *models.TokenPair {
	t.Helper()
	pair, err := e.svc.Authenticate(context.Background(), identifier, password)
	require.NoError(t, err)
	return pair
}

func (e *env) failedAttempts(t *testing.T, identifier string) int {
	t.Helper()
	acc, err := e.users.FindByIdentifier(context.Background(), identifier)
	require.NoError(t, err)
	return acc.FailedAttempts
}
