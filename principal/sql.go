package principal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/tokenguard"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ tokenguard.PrincipalStore = (*SQLStore)(nil)

// Schema creates the table SQLStore reads. Roles are stored as a
// comma-separated list of role names.
const Schema = `create table if not exists principals (
	id            text primary key,
	identifier    text not null unique,
	password_hash text not null,
	roles         text not null default ''
)`

// SQLStore reads principals from the principals table through database/sql.
// Queries use $n placeholders, as the pgx stdlib driver expects.
type SQLStore struct {
	db *sql.DB

	mu    sync.RWMutex
	hooks []DeleteHook
}

// NewSQLStore wraps db. Call EnsureSchema before first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the principals table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create principals table: %w", err)
	}
	return nil
}

// OnDelete registers a hook run after a principal row is removed.
func (s *SQLStore) OnDelete(hook DeleteHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

func (s *SQLStore) PrincipalByIdentifier(ctx context.Context, identifier string) (tokenguard.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identifier, password_hash, roles from principals where identifier=$1`, identifier,
	)
	return scanPrincipal(row)
}

func (s *SQLStore) PrincipalByID(ctx context.Context, id string) (tokenguard.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identifier, password_hash, roles from principals where id=$1`, id,
	)
	return scanPrincipal(row)
}

// Upsert inserts p or replaces the row with the same id.
func (s *SQLStore) Upsert(ctx context.Context, p tokenguard.Principal) error {
	if err := validate(p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, identifier, password_hash, roles) values($1,$2,$3,$4)
		on conflict (id) do update set identifier=excluded.identifier, password_hash=excluded.password_hash, roles=excluded.roles`,
		p.ID, p.Identifier, p.PasswordHash, encodeRoles(p.Roles),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentifier
		}
		return fmt.Errorf("upsert principal: %w", err)
	}
	return nil
}

// Delete removes id and runs the delete hooks.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from principals where id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if n == 0 {
		return tokenguard.ErrPrincipalNotFound
	}

	s.mu.RLock()
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.RUnlock()
	return runHooks(ctx, hooks, id)
}

func scanPrincipal(row *sql.Row) (tokenguard.Principal, error) {
	var (
		p     tokenguard.Principal
		roles string
	)
	if err := row.Scan(&p.ID, &p.Identifier, &p.PasswordHash, &roles); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tokenguard.Principal{}, tokenguard.ErrPrincipalNotFound
		}
		return tokenguard.Principal{}, err
	}
	set, err := decodeRoles(roles)
	if err != nil {
		return tokenguard.Principal{}, fmt.Errorf("principal %s: %w", p.ID, err)
	}
	p.Roles = set
	return p, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
