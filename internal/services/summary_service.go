package services

import (
	"context"
	"fmt"
	"sync"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"

	"golang.org/x/sync/errgroup"
)

// Report bundles the cashflow summary with the expense breakdown.
type Report struct {
	Summary   core.Summary
	Breakdown []core.CategoryTotal
}

// SummaryService derives cashflow figures from the ledger. Results are
// cached per user; every committed mutation bumps the user's generation so
// later reads never see a pre-mutation result.
type SummaryService struct {
	store         ledger.Store
	opts          Options
	defaultPolicy core.StatusPolicy
	cache         *cache.LRUCache[Report]

	mu          sync.Mutex
	generations map[string]uint64
}

// NewSummaryService wires the cache; a nil cache disables caching.
func NewSummaryService(store ledger.Store, defaultPolicy core.StatusPolicy, c *cache.LRUCache[Report], opts Options) *SummaryService {
	if defaultPolicy == "" {
		defaultPolicy = core.StatusPolicyAll
	}
	return &SummaryService{
		store:         store,
		opts:          opts.withDefaults(log.ComponentSummary),
		defaultPolicy: defaultPolicy,
		cache:         c,
		generations:   map[string]uint64{},
	}
}

// Invalidate implements Invalidator.
func (s *SummaryService) Invalidate(userID string) {
	s.mu.Lock()
	s.generations[userID]++
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.DeletePrefix(userID + "|")
	}
}

func (s *SummaryService) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[userID]
}

// Policy resolves an optional per-request override against the default.
func (s *SummaryService) Policy(override core.StatusPolicy) core.StatusPolicy {
	if override == "" {
		return s.defaultPolicy
	}
	return override
}

// Summarize returns income, expenses, net cashflow and savings rate over r.
func (s *SummaryService) Summarize(ctx context.Context, userID string, r core.DateRange, policy core.StatusPolicy) (core.Summary, error) {
	rep, err := s.Report(ctx, userID, r, policy)
	if err != nil {
		return core.Summary{}, err
	}
	return rep.Summary, nil
}

// CategoryBreakdown returns expense totals per category, largest first.
func (s *SummaryService) CategoryBreakdown(ctx context.Context, userID string, r core.DateRange, policy core.StatusPolicy) ([]core.CategoryTotal, error) {
	rep, err := s.Report(ctx, userID, r, policy)
	if err != nil {
		return nil, err
	}
	return rep.Breakdown, nil
}

// Report computes both aggregations concurrently over the same filter.
func (s *SummaryService) Report(ctx context.Context, userID string, r core.DateRange, policy core.StatusPolicy) (Report, error) {
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	policy = s.Policy(policy)

	key := fmt.Sprintf("%s|%d|%s|%s", userID, s.generation(userID), policy, r.Key())
	if s.cache != nil {
		if rep, ok := s.cache.Get(key); ok {
			return rep, nil
		}
	}

	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	f := ledger.Filter{Range: r, Policy: policy}
	var (
		income, expenses core.Money
		rows             []core.CategoryTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		income, expenses, err = s.store.SumByType(gctx, userID, f)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.store.SumExpensesByCategory(gctx, userID, f)
		return err
	})
	if err := g.Wait(); err != nil {
		log.LogError(ctx, s.opts.Logger, "Failed to summarize ledger", err,
			string(core.KindOf(err)), log.OpSummarize, log.NewFields().WithUser(userID))
		return Report{}, err
	}

	rep := Report{
		Summary:   core.NewSummary(income, expenses),
		Breakdown: core.RankCategories(rows),
	}
	if s.cache != nil {
		s.cache.Set(key, rep)
	}
	return rep, nil
}
