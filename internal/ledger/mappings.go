package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// MappingRepositoryPort reads per-company account mappings.
type MappingRepositoryPort interface {
	GetDefaultMapping(ctx context.Context, companyID int64, mappingType MappingType) (int64, error)
}

// Resolver maps semantic ledger roles to concrete account ids, with a redis
// cache in front of the mapping table. Mappings change rarely; the short TTL
// keeps manual remapping visible without restarting.
type Resolver struct {
	repo  MappingRepositoryPort
	redis *redis.Client
	ttl   time.Duration
}

// NewResolver constructs Resolver. The redis client is optional.
func NewResolver(repo MappingRepositoryPort, client *redis.Client, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{repo: repo, redis: client, ttl: ttl}
}

func mappingCacheKey(companyID int64, mt MappingType) string {
	return fmt.Sprintf("acctmap:%d:%s", companyID, mt)
}

// Resolve returns the default account id for the mapping type, or
// ErrMissingMapping naming the type.
func (r *Resolver) Resolve(ctx context.Context, companyID int64, mt MappingType) (int64, error) {
	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, mappingCacheKey(companyID, mt)).Result(); err == nil {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				return id, nil
			}
		}
	}
	id, err := r.repo.GetDefaultMapping(ctx, companyID, mt)
	if err != nil {
		if errors.Is(err, ErrMissingMapping) {
			return 0, fmt.Errorf("%w: %s", ErrMissingMapping, mt)
		}
		return 0, err
	}
	if r.redis != nil {
		_ = r.redis.Set(ctx, mappingCacheKey(companyID, mt), strconv.FormatInt(id, 10), r.ttl).Err()
	}
	return id, nil
}

// ResolveAll resolves a set of mapping types, failing on the first missing one.
func (r *Resolver) ResolveAll(ctx context.Context, companyID int64, types ...MappingType) (map[MappingType]int64, error) {
	out := make(map[MappingType]int64, len(types))
	for _, mt := range types {
		id, err := r.Resolve(ctx, companyID, mt)
		if err != nil {
			return nil, err
		}
		out[mt] = id
	}
	return out, nil
}

// Invalidate drops a cached mapping after it is edited.
func (r *Resolver) Invalidate(ctx context.Context, companyID int64, mt MappingType) {
	if r.redis != nil {
		_ = r.redis.Del(ctx, mappingCacheKey(companyID, mt)).Err()
	}
}
