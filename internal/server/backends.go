package server

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/memory"
	"go.pilab.hu/sociallink/mongodb"
	"go.pilab.hu/sociallink/postgres"
	"go.pilab.hu/sociallink/session"
	redisstore "go.pilab.hu/sociallink/session/redis"
	"go.pilab.hu/sociallink/sqlite"
)

// Repositories are the storage handles of one backend.
type Repositories struct {
	Accounts domain.SocialAccountRepository
	Users    domain.UserRepository
	Writer   domain.UserWriter
	close    func(context.Context) error
}

// Close releases the backend connection.
func (r *Repositories) Close(ctx context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close(ctx)
}

// OpenRepositories connects to the configured backend and applies its
// migrations.
func OpenRepositories(ctx context.Context, cfg config.StorageConfig) (*Repositories, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		users := memory.NewUserRepository()
		return &Repositories{
			Accounts: memory.NewSocialAccountRepository(),
			Users:    users,
			Writer:   users,
		}, nil

	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		users := sqlite.NewUserRepository(db)
		return &Repositories{
			Accounts: sqlite.NewSocialAccountRepository(db),
			Users:    users,
			Writer:   users,
			close:    func(context.Context) error { return db.Close() },
		}, nil

	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		users := postgres.NewUserRepository(pool)
		return &Repositories{
			Accounts: postgres.NewSocialAccountRepository(pool),
			Users:    users,
			Writer:   users,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	case config.StorageMongoDB:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, err
		}
		db := mongodb.GetDB()
		accounts, err := mongodb.NewSocialAccountRepository(ctx, db)
		if err != nil {
			mongodb.CloseMongoDB(ctx)
			return nil, err
		}
		users := mongodb.NewUserRepository(db)
		return &Repositories{
			Accounts: accounts,
			Users:    users,
			Writer:   users,
			close: func(ctx context.Context) error {
				mongodb.CloseMongoDB(ctx)
				return nil
			},
		}, nil
	}

	return nil, &domain.ConfigurationError{Field: "storage.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

// SessionStore is a session.Store that holds resources.
type SessionStore interface {
	session.Store
	io.Closer
}

// OpenSessionStore creates the configured session store.
func OpenSessionStore(ctx context.Context, cfg config.SessionConfig) (SessionStore, error) {
	switch cfg.Backend {
	case config.SessionMemory:
		return session.NewMemoryStore(cfg.TTL), nil

	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return &redisSessionStore{Store: redisstore.NewStore(client, cfg.RedisPrefix, cfg.TTL), client: client}, nil
	}

	return nil, &domain.ConfigurationError{Field: "session.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

type redisSessionStore struct {
	*redisstore.Store
	client *redis.Client
}

func (s *redisSessionStore) Close() error {
	return s.client.Close()
}
