package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Network identifies which chain parameters a tenant's wallet uses.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// Role distinguishes the single Root tenant (which owns the shared
// network graph) from every Default tenant.
type Role string

const (
	RoleRoot    Role = "root"
	RoleDefault Role = "default"
)

// Status is the tenant's current lifecycle state. Every tenant is forced
// to Stopped on process start (spec invariant 2).
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Tenant is one hosted Lightning node identity.
type Tenant struct {
	ID         string
	Pubkey     string // empty until SetPubkey runs during tenant creation
	Username   string
	Alias      string
	Network    Network
	ListenAddr string
	ListenPort int
	Role       Role
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateTenant inserts a new Stopped tenant row. Pubkey is left empty; it
// is filled in by SetPubkey, which AdminService calls right after
// creating the row.
func (db *DB) CreateTenant(ctx context.Context, t *Tenant) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO tenants (id, username, alias, network, listen_addr,
			listen_port, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'stopped')
	`, t.ID, t.Username, t.Alias, t.Network, t.ListenAddr, t.ListenPort, t.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return lnerrors.Precondition(
				"tenant username/listen address/port already in use",
			)
		}
		return lnerrors.ChainFatal(err, "insert tenant %s", t.ID)
	}
	return nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	var pubkey, alias *string
	err := row.Scan(
		&t.ID, &pubkey, &t.Username, &alias, &t.Network, &t.ListenAddr,
		&t.ListenPort, &t.Role, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pubkey != nil {
		t.Pubkey = *pubkey
	}
	if alias != nil {
		t.Alias = *alias
	}
	return &t, nil
}

const tenantColumns = `id, pubkey, username, alias, network, listen_addr,
	listen_port, role, status, created_at, updated_at`

// GetTenantByID looks up a tenant by its opaque id.
func (db *DB) GetTenantByID(ctx context.Context, id string) (*Tenant, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, noRows(err, "tenant %s not found", id)
	}
	return t, nil
}

// GetTenantByPubkey looks up a tenant by its derived public key.
func (db *DB) GetTenantByPubkey(ctx context.Context, pubkey string) (*Tenant, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE pubkey = $1`, pubkey)
	t, err := scanTenant(row)
	if err != nil {
		return nil, noRows(err, "tenant %s not found", pubkey)
	}
	return t, nil
}

// GetRootTenant returns the single Root tenant, or a NotFound error if the
// root has not been created yet.
func (db *DB) GetRootTenant(ctx context.Context) (*Tenant, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE role = 'root'`)
	t, err := scanTenant(row)
	if err != nil {
		return nil, noRows(err, "root tenant not created yet")
	}
	return t, nil
}

// ListTenants returns every tenant row.
func (db *DB) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list tenants")
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, lnerrors.ChainFatal(err, "scan tenant row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetPubkey fills in a tenant's derived public key at tenant creation.
func (db *DB) SetPubkey(ctx context.Context, id, pubkey string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenants SET pubkey = $1, updated_at = now() WHERE id = $2`,
		pubkey, id,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "set pubkey for tenant %s", id)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("tenant %s not found", id)
	}
	return nil
}

// SetStatus transitions a tenant's Status.
func (db *DB) SetStatus(ctx context.Context, pubkey string, status Status) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenants SET status = $1, updated_at = now() WHERE pubkey = $2`,
		status, pubkey,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "set status for tenant %s", pubkey)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("tenant %s not found", pubkey)
	}
	return nil
}

// MarkAllStopped forces every tenant to Stopped. Called once at process
// start per spec invariant 2.
func (db *DB) MarkAllStopped(ctx context.Context) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE tenants SET status = 'stopped', updated_at = now() WHERE status <> 'stopped'`,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "mark all tenants stopped")
	}
	return nil
}

// DeleteTenant removes a tenant row. Callers must have already verified
// the tenant is Stopped (spec precondition on DeleteNode).
func (db *DB) DeleteTenant(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return lnerrors.ChainFatal(err, "delete tenant %s", id)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("tenant %s not found", id)
	}
	return nil
}

// UsedListenPorts returns every listen_port currently assigned to a
// tenant, used by AdminService to seed its port deque excluding
// already-used ports.
func (db *DB) UsedListenPorts(ctx context.Context) (map[int]struct{}, error) {
	rows, err := db.pool.Query(ctx, `SELECT listen_port FROM tenants`)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list used ports")
	}
	defer rows.Close()

	used := make(map[int]struct{})
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan port")
		}
		used[port] = struct{}{}
	}
	return used, rows.Err()
}
