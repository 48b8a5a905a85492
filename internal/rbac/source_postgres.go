package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	listRoleInherits = `SELECT role, inherits FROM rbac_role_inherits ORDER BY role, inherits`
	listGrants       = `SELECT permission, role FROM rbac_permission_grants ORDER BY permission, role`
	listRoles        = `SELECT name FROM rbac_roles ORDER BY name`
)

// PostgresSchema creates the tables PostgresSource reads.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS rbac_roles (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS rbac_role_inherits (
	role     TEXT NOT NULL REFERENCES rbac_roles(name) ON DELETE CASCADE,
	inherits TEXT NOT NULL REFERENCES rbac_roles(name) ON DELETE CASCADE,
	PRIMARY KEY (role, inherits)
);
CREATE TABLE IF NOT EXISTS rbac_permission_grants (
	permission TEXT NOT NULL,
	role       TEXT NOT NULL REFERENCES rbac_roles(name) ON DELETE CASCADE,
	PRIMARY KEY (permission, role)
);`

// PostgresSource loads the authoritative policy from Postgres.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource constructs a PostgresSource backed by the provided pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Name implements Source.
func (s *PostgresSource) Name() string { return "postgres" }

type edgeRow struct {
	From string
	To   string
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context) (Policy, error) {
	roles, err := s.names(ctx, listRoles)
	if err != nil {
		return Policy{}, fmt.Errorf("rbac: list roles: %w", err)
	}
	inherits, err := s.edges(ctx, listRoleInherits)
	if err != nil {
		return Policy{}, fmt.Errorf("rbac: list role inherits: %w", err)
	}
	grants, err := s.edges(ctx, listGrants)
	if err != nil {
		return Policy{}, fmt.Errorf("rbac: list grants: %w", err)
	}
	return buildPolicy(roles, inherits, grants), nil
}

// Replace validates policy and overwrites the stored tables with it in a
// single transaction.
func (s *PostgresSource) Replace(ctx context.Context, policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM rbac_permission_grants`,
		`DELETE FROM rbac_role_inherits`,
		`DELETE FROM rbac_roles`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("rbac: clear policy tables: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, role := range AllRoles() {
		batch.Queue(`INSERT INTO rbac_roles (name) VALUES ($1)`, string(role))
	}
	for _, role := range sortedRoles(policy.Hierarchy) {
		for _, child := range policy.Hierarchy[role] {
			batch.Queue(`INSERT INTO rbac_role_inherits (role, inherits) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(role), string(child))
		}
	}
	for _, perm := range sortedPermissions(policy.Grants) {
		for _, role := range policy.Grants[perm] {
			batch.Queue(`INSERT INTO rbac_permission_grants (permission, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(perm), string(role))
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("rbac: write policy tables: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresSource) names(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresSource) edges(ctx context.Context, query string) ([]edgeRow, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (edgeRow, error) {
		var e edgeRow
		err := row.Scan(&e.From, &e.To)
		return e, err
	})
}

// buildPolicy folds table rows into a Policy. Every listed role gets a
// hierarchy entry even when it inherits nothing.
func buildPolicy(roles []string, inherits, grants []edgeRow) Policy {
	p := Policy{
		Hierarchy: make(map[Role][]Role, len(roles)),
		Grants:    make(map[Permission][]Role),
	}
	for _, name := range roles {
		p.Hierarchy[normaliseRole(name)] = []Role{}
	}
	for _, e := range inherits {
		role := normaliseRole(e.From)
		p.Hierarchy[role] = append(p.Hierarchy[role], normaliseRole(e.To))
	}
	for _, e := range grants {
		perm := Permission(e.From)
		p.Grants[perm] = append(p.Grants[perm], normaliseRole(e.To))
	}
	return p
}
