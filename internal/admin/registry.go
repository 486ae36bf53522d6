// Package admin implements AdminService: the tenant registry that
// materializes, starts, and stops tenant nodes while multiplexing the
// shared ChainBackend, ChainListenerHub, and network graph across them.
package admin

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lnhostd/lnhost/internal/auth"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/lnerrors"
	"github.com/lnhostd/lnhost/internal/persist"
	"github.com/lnhostd/lnhost/internal/tenant"
)

// rootScope is the access token scope minted once for the root tenant at
// bootstrap, granting every admin endpoint.
const rootScope = "*"

// rootListenPort is fixed for the Root tenant so every Default tenant can
// dial it at a well-known address; it is never drawn from the port
// deque.
const rootListenPort = 9735

// NodeHandle bundles a running tenant's Node with the bookkeeping the
// registry needs to shut it down cleanly.
type NodeHandle struct {
	Node *tenant.Node
}

// Config configures one running AdminService instance.
type Config struct {
	DataDir  string
	Network  database.Network
	PortMin  int
	PortMax  int
	Factories tenant.Factories
}

// Registry is AdminService's tenant registry: single mutex-guarded map of
// every currently-running tenant, plus the process-wide shared state
// every tenant node is constructed against.
type Registry struct {
	cfg     Config
	params  *chaincfg.Params
	db      *database.DB
	backend *chainbackend.Backend
	hub     *chainlistener.Hub
	bus     *events.Bus

	mu      sync.Mutex
	nodes   map[string]*NodeHandle // tenant pubkey -> handle
	ports   *portDeque
	graph   tenant.NetworkGraph // set once Root is Running; shared by every Default
}

// New builds a Registry, seeding its port deque from every tenant row
// already on disk so a restart never double-allocates a listen port.
func New(ctx context.Context, cfg Config, db *database.DB, backend *chainbackend.Backend, hub *chainlistener.Hub, bus *events.Bus) (*Registry, error) {
	params, err := networkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	used, err := db.UsedListenPorts(ctx)
	if err != nil {
		return nil, err
	}
	return &Registry{
		cfg:     cfg,
		params:  params,
		db:      db,
		backend: backend,
		hub:     hub,
		bus:     bus,
		nodes:   make(map[string]*NodeHandle),
		ports:   newPortDeque(cfg.PortMin, cfg.PortMax, used),
	}, nil
}

func networkParams(n database.Network) (*chaincfg.Params, error) {
	switch n {
	case database.NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case database.NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	case database.NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, lnerrors.New(lnerrors.KindConfiguration, "unknown network %q", n)
	}
}

// Status is the response shape for GetStatus.
type Status struct {
	Version       string
	Alias         string
	Created       bool
	Running       bool
	Authenticated bool
	Pubkey        string
	Username      string
	Role          database.Role
}

// GetStatus reports a tenant's lifecycle state. It is the one admin
// operation safe to call unauthenticated. For an existing tenant
// Authenticated is true; an unknown pubkey yields Created false with every
// other field left at its zero value, Authenticated included.
func (r *Registry) GetStatus(ctx context.Context, pubkey string) (*Status, error) {
	t, err := r.db.GetTenantByPubkey(ctx, pubkey)
	if err != nil {
		return &Status{Created: false}, nil
	}

	r.mu.Lock()
	_, running := r.nodes[pubkey]
	r.mu.Unlock()

	return &Status{
		Created:       true,
		Running:       running,
		Authenticated: true,
		Pubkey:        t.Pubkey,
		Alias:         t.Alias,
		Username:      t.Username,
		Role:          t.Role,
	}, nil
}

func tenantDataDir(dataDir, tenantID string) string {
	return filepath.Join(dataDir, tenantID)
}

func (r *Registry) dependencies(graph tenant.NetworkGraph, store persist.Store) tenant.Dependencies {
	return tenant.Dependencies{
		DB:        r.db,
		Backend:   r.backend,
		Hub:       r.hub,
		Bus:       r.bus,
		Graph:     graph,
		Params:    r.params,
		Store:     store,
		Factories: r.cfg.Factories,
	}
}

func (r *Registry) tenantStore(tenantID string) (persist.Store, error) {
	dir := tenantDataDir(r.cfg.DataDir, tenantID)
	store, err := persist.NewFileStore(dir)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "open tenant store %s", dir)
	}
	return store, nil
}

// rootKeyFor satisfies auth.VerifyMacaroon's lookup signature: a
// tenant's macaroon root key is only available while its node is
// running, since it is the node's in-memory signer's secret, never
// persisted unencrypted.
func (r *Registry) rootKeyFor(tenantPubkey string) ([]byte, bool) {
	r.mu.Lock()
	h, ok := r.nodes[tenantPubkey]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return h.Node.MacaroonRootKey(), true
}

// VerifyMacaroon exposes rootKeyFor to the transport layer so gRPC
// interceptors can authenticate tenant calls without reaching into the
// registry's internals directly.
func (r *Registry) VerifyMacaroon(ctx context.Context, raw []byte) (*auth.Identifier, error) {
	return auth.VerifyMacaroon(ctx, r.db, raw, r.rootKeyFor)
}

func removeDataDir(dataDir, tenantID string) error {
	dir := tenantDataDir(dataDir, tenantID)
	if err := os.RemoveAll(dir); err != nil {
		return lnerrors.Wrap(lnerrors.KindChainFatal, err, "remove data directory %s", dir)
	}
	return nil
}
