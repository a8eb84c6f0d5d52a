package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"

	"golang.org/x/sync/singleflight"
)

// DefaultCurrency is assigned to provisioned accounts.
const DefaultCurrency = "USD"

type accountSeed struct{ name, kind string }
type categorySeed struct{ name, icon, color string }

var defaultAccounts = []accountSeed{
	{"Primary Savings", "savings"},
	{"Checking Account", "checking"},
	{"Credit Card", "credit"},
}

var defaultCategories = []categorySeed{
	{"Salary", "💰", "#22c55e"},
	{"Freelance", "💻", "#3b82f6"},
	{"Investments", "📈", "#8b5cf6"},
	{"Food", "🍕", "#f59e0b"},
	{"Groceries", "🛒", "#10b981"},
	{"Transport", "🚗", "#ef4444"},
	{"Entertainment", "🎬", "#ec4899"},
	{"Utilities", "💡", "#f97316"},
	{"Healthcare", "🏥", "#06b6d4"},
	{"Shopping", "🛍️", "#84cc16"},
	{"Subscriptions", "📱", "#6366f1"},
	{"Travel", "✈️", "#14b8a6"},
}

// ProvisioningService maps an external identity to a local user, creating
// the user with default accounts and categories on first sight.
type ProvisioningService struct {
	store ledger.Store
	opts  Options
	group singleflight.Group
}

func NewProvisioningService(store ledger.Store, opts Options) *ProvisioningService {
	return &ProvisioningService{store: store, opts: opts.withDefaults(log.ComponentProvisioning)}
}

// EnsureUser is idempotent. Concurrent first calls for one identity in this
// process share a single attempt; across processes the store's uniqueness
// on the identity ref decides the winner and losers re-read.
func (s *ProvisioningService) EnsureUser(ctx context.Context, id core.Identity) (core.User, error) {
	if err := id.Validate(); err != nil {
		return core.User{}, err
	}

	v, err, _ := s.group.Do(id.Ref, func() (any, error) {
		return s.ensure(ctx, id)
	})
	if err != nil {
		return core.User{}, err
	}
	return v.(core.User), nil
}

func (s *ProvisioningService) ensure(ctx context.Context, id core.Identity) (core.User, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	u, err := s.store.GetUserByIdentity(ctx, id.Ref)
	switch {
	case err == nil:
		return s.attach(ctx, u)
	case !errors.Is(err, core.ErrNotFound):
		return core.User{}, err
	}

	u, err = s.create(ctx, id)
	if errors.Is(err, core.ErrConflict) {
		s.opts.Logger.DebugContext(ctx, "Lost provisioning race, re-reading user", log.FieldIdentityRef, id.Ref)
		u, err = s.store.GetUserByIdentity(ctx, id.Ref)
	}
	if err != nil {
		log.LogError(ctx, s.opts.Logger, "Failed to provision user", err,
			string(core.KindOf(err)), log.OpProvision, log.NewFields())
		return core.User{}, err
	}
	return s.attach(ctx, u)
}

func (s *ProvisioningService) create(ctx context.Context, id core.Identity) (core.User, error) {
	now := s.opts.Now()
	u := core.User{
		ID:          s.opts.NewID(),
		IdentityRef: id.Ref,
		Email:       strings.TrimSpace(id.Email),
		DisplayName: strings.TrimSpace(id.DisplayName),
		CreatedAt:   now,
	}

	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		if err := q.InsertUser(ctx, u); err != nil {
			return err
		}
		for i, seed := range defaultAccounts {
			acc := core.Account{
				ID:        s.opts.NewID(),
				UserID:    u.ID,
				Name:      seed.name,
				Kind:      seed.kind,
				Currency:  DefaultCurrency,
				IsActive:  true,
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond), // keeps seed order stable
			}
			if err := q.InsertAccount(ctx, acc); err != nil {
				return err
			}
		}
		for _, seed := range defaultCategories {
			cat := core.Category{
				ID:        s.opts.NewID(),
				UserID:    u.ID,
				Name:      seed.name,
				Icon:      seed.icon,
				Color:     seed.color,
				CreatedAt: now,
			}
			if err := q.InsertCategory(ctx, cat); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.User{}, err
	}

	s.opts.Logger.InfoContext(ctx, "Provisioned new user",
		log.FieldUserID, u.ID,
		"accounts", len(defaultAccounts),
		"categories", len(defaultCategories))
	return u, nil
}

func (s *ProvisioningService) attach(ctx context.Context, u core.User) (core.User, error) {
	accounts, err := s.store.ListAccounts(ctx, u.ID, true)
	if err != nil {
		return core.User{}, err
	}
	categories, err := s.store.ListCategories(ctx, u.ID)
	if err != nil {
		return core.User{}, err
	}
	u.Accounts, u.Categories = accounts, categories
	return u, nil
}
