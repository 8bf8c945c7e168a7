package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/principal"
	"github.com/alicebob/miniredis/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// principalStore is what the server needs beyond lookups: deletion with a
// revocation hook and seeding.
type principalStore interface {
	tokenguard.PrincipalStore
	OnDelete(hook principal.DeleteHook)
	Delete(ctx context.Context, id string) error
}

// openRedis connects to addr. An empty addr or "memory" starts an in-process
// miniredis, which loses every refresh token on exit.
func openRedis(ctx context.Context, addr string, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" || addr == "memory" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Warn("using in-process redis", slog.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	logger.Info("connected to redis", slog.String("addr", addr))
	return client, func() { _ = client.Close() }, nil
}

// openStore returns a Postgres-backed store when dsn is set and an in-memory
// one otherwise.
func openStore(ctx context.Context, dsn string, logger *slog.Logger) (principalStore, func(), error) {
	if dsn == "" {
		logger.Warn("using in-memory principal store")
		return principal.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := principal.NewSQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

// seedAdmin creates or replaces an administrator so a fresh server can be
// logged into.
func seedAdmin(ctx context.Context, store principalStore, cfg tokenguard.PasswordConfig, identifier, secret string) error {
	hasher, err := tokenguard.NewHasher(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	p := tokenguard.Principal{
		ID:           "admin-" + identifier,
		Identifier:   identifier,
		PasswordHash: hash,
		Roles:        authz.NewRoleSet(authz.RoleUser, authz.RoleAdmin),
	}

	switch s := store.(type) {
	case *principal.MemoryStore:
		return s.Put(p)
	case *principal.SQLStore:
		return s.Upsert(ctx, p)
	default:
		return fmt.Errorf("store %T cannot be seeded", store)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
