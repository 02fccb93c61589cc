package storage

import (
	"context"
	"errors"
	"fmt"

	"pasta/chat/internal/config"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrUnknownBackend is returned for an unsupported store.backend value.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// OpenService connects to PostgreSQL and Redis for the self-hosted store.
func OpenService(ctx context.Context, cfg config.StoreConfig) (*Service, error) {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect Redis: %w", err)
	}

	return NewStorageService(db, rdb), nil
}

// Close releases the service's connections.
func (s *Service) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

// OpenFirestore connects to Cloud Firestore. FIRESTORE_EMULATOR_HOST is honored by the
// client library.
func OpenFirestore(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	database := cfg.Database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect Firestore: %w", err)
	}
	return NewFirestoreStore(client), nil
}

// Close releases the Firestore client.
func (f *FirestoreStore) Close() error {
	return f.Client.Close()
}

// NewWatcher builds the live-query side for the configured backend. tokens is only used by
// the remote backend. The returned close function releases backend connections.
func NewWatcher(ctx context.Context, cfg config.StoreConfig, tokens TokenSource) (Watcher, func() error, error) {
	switch cfg.Backend {
	case "firestore":
		fs, err := OpenFirestore(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	case "sql":
		svc, err := OpenService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	case "remote":
		return NewRemoteWatcher(cfg.Remote.URL, tokens), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// NewStore builds the write/administration side for the configured backend. The remote
// backend has none; administer the store behind it instead.
func NewStore(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "firestore":
		fs, err := OpenFirestore(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	case "sql":
		svc, err := OpenService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
