package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealgate.io/internal/ids"
)

// Deal is the minimal listing record the engine keeps about a deal. The full
// listing lives in the marketplace service; grants and releases only need
// existence and a display name.
type Deal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DealStore extends the read-side DealDirectory with registration.
type DealStore interface {
	DealDirectory
	CreateDeal(ctx context.Context, deal *Deal) error
	ListDeals(ctx context.Context) ([]Deal, error)
}

// IdentityStore extends the read-side IdentityDirectory with registration.
type IdentityStore interface {
	IdentityDirectory
	SetIdentityEmail(ctx context.Context, ref IdentityRef, email string) error
}

// InMemoryDirectory backs the deal and identity directories for tests and
// single-node setups.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	deals  map[string]Deal
	emails map[string]string // identity key -> email
}

var _ DealStore = (*InMemoryDirectory)(nil)
var _ IdentityStore = (*InMemoryDirectory)(nil)

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		deals:  make(map[string]Deal),
		emails: make(map[string]string),
	}
}

func (d *InMemoryDirectory) CreateDeal(ctx context.Context, deal *Deal) error {
	if deal == nil || strings.TrimSpace(deal.Name) == "" {
		return fmt.Errorf("%w: deal name is required", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if deal.ID == "" {
		deal.ID = ids.New()
	}
	deal.CreatedAt = time.Now().UTC()
	d.deals[deal.ID] = *deal
	return nil
}

func (d *InMemoryDirectory) ListDeals(ctx context.Context) ([]Deal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]Deal, 0, len(d.deals))
	for _, deal := range d.deals {
		res = append(res, deal)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (d *InMemoryDirectory) DealExists(ctx context.Context, dealID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.deals[dealID]
	return ok, nil
}

func (d *InMemoryDirectory) SetIdentityEmail(ctx context.Context, ref IdentityRef, email string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails[ref.Key()] = email
	return nil
}

func (d *InMemoryDirectory) EmailFor(ctx context.Context, ref IdentityRef) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	email, ok := d.emails[ref.Key()]
	return email, ok, nil
}
