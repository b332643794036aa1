package accounts

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"friends-go/internal/models"
)

// Lookup resolves user ids to accounts.
type Lookup interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error)
}

// Cache stores resolved accounts for a limited time.
type Cache interface {
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error)
	SetMany(ctx context.Context, accounts []models.Account, ttl time.Duration) error
}

// CachedLookup serves accounts from a cache and falls back to the wrapped Lookup for misses.
// Cache errors degrade to a direct lookup.
type CachedLookup struct {
	next   Lookup
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger

	// 共享调用与发起者的取消解耦，但仍有上限
	flightTimeout time.Duration
}

const defaultFlightTimeout = 5 * time.Second

func NewCachedLookup(next Lookup, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	return &CachedLookup{
		next:          next,
		cache:         cache,
		ttl:           ttl,
		logger:        logger.Named("accounts-cache"),
		flightTimeout: defaultFlightTimeout,
	}
}

func (c *CachedLookup) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return map[uuid.UUID]models.Account{}, nil
	}

	found, err := c.cache.GetMany(ctx, ids)
	if err != nil {
		c.logger.Warn("account cache read failed", zap.Error(err))
		found = map[uuid.UUID]models.Account{}
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	// Identical concurrent misses made with the same credentials share one upstream call.
	// The call outlives any single caller, so it runs on a detached context.
	ch := c.group.DoChan(flightKey(AuthorizationFromContext(ctx), missing), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		fetched, err := c.next.Resolve(flightCtx, missing)
		if len(fetched) > 0 {
			accounts := make([]models.Account, 0, len(fetched))
			for _, acc := range fetched {
				accounts = append(accounts, acc)
			}
			if cerr := c.cache.SetMany(flightCtx, accounts, c.ttl); cerr != nil {
				c.logger.Warn("account cache write failed", zap.Error(cerr))
			}
		}
		return fetched, err
	})

	select {
	case <-ctx.Done():
		return found, ctx.Err()
	case res := <-ch:
		fetched, _ := res.Val.(map[uuid.UUID]models.Account)
		for id, acc := range fetched {
			found[id] = acc
		}
		return found, res.Err
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func flightKey(authorization string, ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	slices.Sort(parts)
	return authorization + "|" + strings.Join(parts, ",")
}
