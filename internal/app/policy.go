package app

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rigflow/rigflow/internal/rbac"
)

// ServerPolicySource returns the source the API server reloads from.
func ServerPolicySource(cfg *Config, client *redis.Client) (rbac.Source, error) {
	switch cfg.PolicySource {
	case PolicySourceBuiltin:
		return rbac.StaticSource{Policy: rbac.DefaultPolicy()}, nil
	case PolicySourceFile:
		return rbac.FileSource{Path: cfg.PolicyFile}, nil
	case PolicySourceRedis:
		if client == nil {
			return nil, errors.New("app: redis policy source needs a redis client")
		}
		return rbac.NewRedisSource(client), nil
	default:
		return nil, fmt.Errorf("app: unsupported policy source %q", cfg.PolicySource)
	}
}

// SyncPolicySource returns the authoritative source the worker publishes from.
func SyncPolicySource(cfg *Config, pool *pgxpool.Pool) (rbac.Source, error) {
	switch cfg.SyncSource {
	case PolicySourceBuiltin:
		return rbac.StaticSource{Policy: rbac.DefaultPolicy()}, nil
	case PolicySourceFile:
		return rbac.FileSource{Path: cfg.PolicyFile}, nil
	case PolicySourcePostgres:
		if pool == nil {
			return nil, errors.New("app: postgres policy source needs a pool")
		}
		return rbac.NewPostgresSource(pool), nil
	default:
		return nil, fmt.Errorf("app: unsupported sync source %q", cfg.SyncSource)
	}
}
