// memory - хранилища в памяти процесса для окружения local и тестов.
// Все методы возвращают копии записей: вызывающий не может изменить
// состояние хранилища в обход Save/UpdateAuthState.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// Users - UserStore в памяти.
type Users struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

// NewUsers создаёт хранилище, предварительно заполненное accounts.
func NewUsers(accounts ...*models.Account) *Users {
	u := &Users{accounts: make(map[string]*models.Account, len(accounts))}
	for _, acc := range accounts {
		c := cloneAccount(acc)
		c.Identifier = models.NormalizeIdentifier(c.Identifier)
		u.accounts[c.Identifier] = c
	}

	return u
}

// FindByIdentifier находит учётную запись по идентификатору.
func (u *Users) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	const op = "storage.memory.Users.FindByIdentifier"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	acc, ok := u.accounts[models.NormalizeIdentifier(identifier)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return cloneAccount(acc), nil
}

// Save сохраняет учётную запись (создаёт или заменяет).
func (u *Users) Save(ctx context.Context, acc *models.Account) error {
	const op = "storage.memory.Users.Save"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	c := cloneAccount(acc)
	c.Identifier = models.NormalizeIdentifier(c.Identifier)
	c.UpdatedAt = time.Now().UTC()
	u.accounts[c.Identifier] = c

	return nil
}

// UpdateAuthState применяет fn к записи под мьютексом хранилища.
func (u *Users) UpdateAuthState(ctx context.Context, identifier string, fn storage.AccountMutation) (*models.Account, error) {
	const op = "storage.memory.Users.UpdateAuthState"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	cur, ok := u.accounts[models.NormalizeIdentifier(identifier)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	next := cloneAccount(cur)
	if err := fn(next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next.UpdatedAt = time.Now().UTC()
	u.accounts[cur.Identifier] = next

	return cloneAccount(next), nil
}

// Resources - ResourceStore в памяти.
type Resources struct {
	mu        sync.Mutex
	resources map[int64]*models.Resource
}

// NewResources создаёт хранилище с ресурсами ids без токенов.
func NewResources(ids ...int64) *Resources {
	r := &Resources{resources: make(map[int64]*models.Resource, len(ids))}
	for _, id := range ids {
		r.resources[id] = &models.Resource{ID: id}
	}

	return r
}

// Add добавляет пустой ресурс.
func (r *Resources) Add(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resources[id]; !ok {
		r.resources[id] = &models.Resource{ID: id}
	}
}

// Find находит ресурс по ID.
func (r *Resources) Find(ctx context.Context, id int64) (*models.Resource, error) {
	const op = "storage.memory.Resources.Find"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return cloneResource(res), nil
}

// FindByTokenHash находит ресурс по хэшу токена.
func (r *Resources) FindByTokenHash(ctx context.Context, hash string) (*models.Resource, error) {
	const op = "storage.memory.Resources.FindByTokenHash"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	if hash == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.resources {
		if res.TokenHash == hash {
			return cloneResource(res), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

// SetToken сохраняет токен на ресурсе, перезаписывая предыдущий.
func (r *Resources) SetToken(ctx context.Context, id int64, hash string, expiresAt time.Time, access models.AccessLevel, issuer string) error {
	const op = "storage.memory.Resources.SetToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	exp := expiresAt.UTC()
	res.TokenHash = hash
	res.TokenExpiresAt = &exp
	res.TokenAccess = access
	res.TokenIssuer = issuer

	return nil
}

// ClearToken удаляет токен с ресурса.
func (r *Resources) ClearToken(ctx context.Context, id int64) error {
	const op = "storage.memory.Resources.ClearToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	res.TokenHash = ""
	res.TokenExpiresAt = nil
	res.TokenAccess = ""
	res.TokenIssuer = ""

	return nil
}

// Audit - AuditSink в памяти. Записи только добавляются.
type Audit struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func NewAudit() *Audit {
	return &Audit{}
}

// Append добавляет запись.
func (a *Audit) Append(ctx context.Context, rec *models.AuditRecord) error {
	const op = "storage.memory.Audit.Append"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := *rec
	if rec.ResourceID != nil {
		id := *rec.ResourceID
		c.ResourceID = &id
	}
	a.records = append(a.records, c)

	return nil
}

// Records возвращает копию журнала.
func (a *Audit) Records() []models.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.AuditRecord, len(a.records))
	copy(out, a.records)

	return out
}

func cloneAccount(acc *models.Account) *models.Account {
	c := *acc
	if acc.LockedUntil != nil {
		t := *acc.LockedUntil
		c.LockedUntil = &t
	}
	if acc.LastSuccessAt != nil {
		t := *acc.LastSuccessAt
		c.LastSuccessAt = &t
	}

	return &c
}

func cloneResource(res *models.Resource) *models.Resource {
	c := *res
	if res.TokenExpiresAt != nil {
		t := *res.TokenExpiresAt
		c.TokenExpiresAt = &t
	}

	return &c
}

var (
	_ storage.UserStore     = (*Users)(nil)
	_ storage.ResourceStore = (*Resources)(nil)
	_ storage.AuditSink     = (*Audit)(nil)
)
