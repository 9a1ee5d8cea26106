package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
	"github.com/custodia-labs/agencylink/internal/metrics"
)

// Ensure discoverer implements DiscoveryService
var _ driving.DiscoveryService = (*discoverer)(nil)

const (
	defaultDiscoveryConcurrency = 4
	defaultDiscoveryPageSize    = 100
	defaultDiscoveryMaxPages    = 50
	defaultDiscoveryLockTTL     = 10 * time.Minute
)

// DiscovererConfig holds dependencies for sub-account discovery.
type DiscovererConfig struct {
	Store       driven.TokenStore
	Platform    driven.PlatformClient
	Coordinator *RefreshCoordinator

	// Lock serializes runs per agency across instances. Optional.
	Lock   driven.DistributedLock
	Logger *slog.Logger

	// Concurrency bounds parallel mints. Defaults to 4.
	Concurrency int
	// PageSize is the page size of the fallback listing. Defaults to 100.
	PageSize int
	// MaxPages caps the fallback listing. Defaults to 50.
	MaxPages int
	// LockTTL is the discovery lock lifetime. Defaults to 10 minutes.
	LockTTL time.Duration

	// Now is the clock used for SavedAt. Defaults to time.Now.
	Now func() time.Time
}

type discoverer struct {
	store       driven.TokenStore
	platform    driven.PlatformClient
	coordinator *RefreshCoordinator
	lock        driven.DistributedLock
	logger      *slog.Logger
	concurrency int
	pageSize    int
	maxPages    int
	lockTTL     time.Duration
	now         func() time.Time
}

// NewDiscoverer creates a discovery service. A nil Coordinator gets one built
// from Store and Platform.
func NewDiscoverer(cfg DiscovererConfig) driving.DiscoveryService {
	return newDiscoverer(cfg)
}

func newDiscoverer(cfg DiscovererConfig) *discoverer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = NewRefreshCoordinator(RefreshCoordinatorConfig{
			Store:    cfg.Store,
			Platform: cfg.Platform,
			Logger:   logger,
			Now:      now,
		})
	}
	d := &discoverer{
		store:       cfg.Store,
		platform:    cfg.Platform,
		coordinator: coordinator,
		lock:        cfg.Lock,
		logger:      logger,
		concurrency: cfg.Concurrency,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
		lockTTL:     cfg.LockTTL,
		now:         now,
	}
	if d.concurrency <= 0 {
		d.concurrency = defaultDiscoveryConcurrency
	}
	if d.pageSize <= 0 {
		d.pageSize = defaultDiscoveryPageSize
	}
	if d.maxPages <= 0 {
		d.maxPages = defaultDiscoveryMaxPages
	}
	if d.lockTTL <= 0 {
		d.lockTTL = defaultDiscoveryLockTTL
	}
	return d
}

// enumeration is one way of listing an agency's sub-accounts.
type enumeration struct {
	source domain.DiscoverySource
	list   func(ctx context.Context, agencyID string) ([]domain.SubAccountSnapshot, error)
}

// DiscoverAndMint lists the agency's sub-accounts and mints a token for each.
// Mint failures are collected in the result. A missing agency install, a held
// lock, an unreachable store or a cancelled context fail the whole run; the
// partial result is still returned in the last two cases.
func (d *discoverer) DiscoverAndMint(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error) {
	agencyID = strings.TrimSpace(agencyID)
	if agencyID == "" {
		return nil, fmt.Errorf("%w: agency id is required", domain.ErrInvalidInput)
	}
	agencyKey := domain.AgencyTenantKey(agencyID)
	if _, err := d.store.GetByTenantKey(ctx, agencyKey); err != nil {
		return nil, fmt.Errorf("load agency install: %w", err)
	}

	if d.lock != nil {
		lockName := "discovery:" + agencyID
		acquired, err := d.lock.Acquire(ctx, lockName, d.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire discovery lock: %w", err)
		}
		if !acquired {
			return nil, domain.ErrDiscoveryInProgress
		}
		stopExtending := d.keepLock(ctx, lockName, agencyID)
		defer func() {
			stopExtending()
			if err := d.lock.Release(context.WithoutCancel(ctx), lockName); err != nil {
				d.logger.Warn("failed to release discovery lock", "agency_id", agencyID, "error", err)
			}
		}()
	}

	start := time.Now()
	result := &domain.DiscoveryResult{AgencyID: agencyID, Source: domain.DiscoverySourceNone}

	subs, source := d.enumerate(ctx, agencyKey, agencyID)
	result.Source = source
	result.Found = len(subs)
	defer func() { metrics.ObserveDiscovery(string(result.Source), time.Since(start)) }()

	if len(subs) == 0 {
		d.logger.Info("no sub-accounts discovered", "agency_id", agencyID)
		return result, ctx.Err()
	}

	errs := make([]error, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			errs[i] = d.mintOne(gctx, agencyKey, agencyID, sub)
			return nil
		})
	}
	_ = g.Wait()

	for i, sub := range subs {
		if errs[i] != nil {
			result.Failed = append(result.Failed, domain.FailedMint{SubAccountID: sub.ID, Reason: errs[i].Error()})
			continue
		}
		result.MintedIDs = append(result.MintedIDs, sub.ID)
	}
	result.Minted = len(result.MintedIDs)

	d.logger.Info("discovery finished",
		"agency_id", agencyID,
		"source", result.Source,
		"found", result.Found,
		"minted", result.Minted,
		"failed", len(result.Failed),
		"duration", time.Since(start))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	for _, err := range errs {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return result, err
		}
	}
	return result, nil
}

// keepLock extends the discovery lock every half TTL until the returned stop
// func is called, so a long fan-out does not outlive its lock.
func (d *discoverer) keepLock(ctx context.Context, name, agencyID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(d.lockTTL/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.lock.Extend(ctx, name, d.lockTTL); err != nil && ctx.Err() == nil {
					d.logger.Warn("failed to extend discovery lock", "agency_id", agencyID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// enumerate tries each enumeration in order and keeps the first non-empty
// list. Enumeration errors are logged and fall through to the next source.
func (d *discoverer) enumerate(ctx context.Context, agencyKey, agencyID string) ([]domain.SubAccountSnapshot, domain.DiscoverySource) {
	steps := []enumeration{
		{
			source: domain.DiscoverySourceInstalled,
			list: func(ctx context.Context, agencyID string) ([]domain.SubAccountSnapshot, error) {
				var out []domain.SubAccountSnapshot
				err := d.coordinator.CallWithRefresh(ctx, agencyKey, func(ctx context.Context, at string) error {
					var err error
					out, err = d.platform.ListInstalledSubAccounts(ctx, at, agencyID)
					return err
				})
				return out, err
			},
		},
		{
			source: domain.DiscoverySourceListing,
			list: func(ctx context.Context, agencyID string) ([]domain.SubAccountSnapshot, error) {
				return d.listAllPages(ctx, agencyKey, agencyID)
			},
		},
	}

	for _, step := range steps {
		subs, err := step.list(ctx, agencyID)
		if err != nil {
			d.logger.Warn("sub-account enumeration failed",
				"agency_id", agencyID, "source", step.source, "error", err)
		}
		subs = dedupeSubAccounts(subs)
		if len(subs) > 0 {
			return subs, step.source
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, domain.DiscoverySourceNone
}

// listAllPages walks the paginated listing until a short page, an error, or
// the page cap. Pages read before an error are kept.
func (d *discoverer) listAllPages(ctx context.Context, agencyKey, agencyID string) ([]domain.SubAccountSnapshot, error) {
	var all []domain.SubAccountSnapshot
	for page := 1; page <= d.maxPages; page++ {
		var batch driven.SubAccountPage
		err := d.coordinator.CallWithRefresh(ctx, agencyKey, func(ctx context.Context, at string) error {
			var err error
			batch, err = d.platform.ListSubAccounts(ctx, at, agencyID, page, d.pageSize)
			return err
		})
		if err != nil {
			if len(all) > 0 {
				d.logger.Warn("sub-account listing stopped early",
					"agency_id", agencyID, "page", page, "error", err)
				return all, nil
			}
			return nil, err
		}
		all = append(all, batch.SubAccounts...)
		if batch.Listed < d.pageSize {
			break
		}
	}
	return all, nil
}

// mintOne mints and stores a token for one sub-account. Re-minting the same
// sub-account overwrites its record.
func (d *discoverer) mintOne(ctx context.Context, agencyKey, agencyID string, sub domain.SubAccountSnapshot) error {
	var tok *driven.TokenResult
	err := d.coordinator.CallWithRefresh(ctx, agencyKey, func(ctx context.Context, at string) error {
		var err error
		tok, err = d.platform.MintSubAccountToken(ctx, at, agencyID, sub.ID)
		return err
	})
	metrics.ObserveMint(err)
	if err != nil {
		d.logger.Warn("sub-account mint failed", "agency_id", agencyID, "sub_account_id", sub.ID, "error", err)
		return err
	}
	// A derived refresh token alone is a usable install; the access token
	// can be obtained from it later.
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		err := errors.New("mint returned no tokens")
		d.logger.Warn("sub-account mint failed", "agency_id", agencyID, "sub_account_id", sub.ID, "error", err)
		return err
	}

	tokens := tokenSetFrom(tok, "", d.now())
	patch := domain.InstallPatch{
		ScopeKind:    domain.Ptr(domain.ScopeSubAccount),
		AgencyID:     domain.Ptr(agencyID),
		SubAccountID: domain.Ptr(sub.ID),
		Scopes:       domain.ParseScopes(tokens.RawScope),
		Tokens:       tokens,
	}
	if sub.Name != "" {
		patch.SubAccountName = domain.Ptr(sub.Name)
	}
	key := domain.SubAccountTenantKey(sub.ID)
	if err := d.store.Upsert(ctx, key, patch); err != nil {
		d.logger.Warn("failed to store sub-account token", "tenant_key", key, "error", err)
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// dedupeSubAccounts drops blank and repeated ids, keeping first-seen order.
func dedupeSubAccounts(in []domain.SubAccountSnapshot) []domain.SubAccountSnapshot {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.SubAccountSnapshot, 0, len(in))
	for _, s := range in {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}
