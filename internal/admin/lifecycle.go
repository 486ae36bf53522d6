package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/lnhostd/lnhost/internal/auth"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
	"github.com/lnhostd/lnhost/internal/tenant"
)

// rootTokenName marks the single access token record minted for the
// Root tenant at bootstrap, so a repeated CreateAdmin call can find and
// return it instead of minting a second one.
const rootTokenName = "root-bootstrap"

// defaultTenantScope grants a freshly created tenant's macaroon every
// scope; finer per-endpoint scoping is left to access tokens, which
// gate the admin surface rather than per-tenant calls.
const defaultTenantScope = "*"

// CreateNodeRequest describes a new tenant to materialize.
type CreateNodeRequest struct {
	Username   string
	Alias      string
	Role       database.Role
	ListenAddr string // empty: auto-discover public IP, fall back to 0.0.0.0
	Passphrase string
	Start      bool
}

// CreateResult is returned by CreateAdmin and CreateNode.
type CreateResult struct {
	Tenant   *database.Tenant
	Macaroon []byte // tenant macaroon, nil when CreateAdmin returns an already-existing root tenant
	Token    string // root access token, only set by CreateAdmin
}

// CreateAdmin bootstraps the single Root tenant. Called a second time,
// it detects the existing root tenant and returns its existing access
// token rather than erroring or minting a second one, per the root
// bootstrap's idempotence requirement.
func (r *Registry) CreateAdmin(ctx context.Context, passphrase string, start bool) (*CreateResult, error) {
	if existing, err := r.db.GetRootTenant(ctx); err == nil {
		tokens, err := r.db.ListAccessTokens(ctx)
		if err != nil {
			return nil, err
		}
		for _, tok := range tokens {
			if tok.Name == rootTokenName {
				if start {
					if err := r.StartNode(ctx, existing.Pubkey, passphrase); err != nil {
						return nil, err
					}
				}
				return &CreateResult{Tenant: existing, Token: tok.Token}, nil
			}
		}
		return nil, lnerrors.New(lnerrors.KindChainFatal, "root tenant %s exists without a root access token", existing.ID)
	}

	result, err := r.createTenant(ctx, CreateNodeRequest{
		Role:       database.RoleRoot,
		Username:   "root",
		Passphrase: passphrase,
	})
	if err != nil {
		return nil, err
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	if err := r.db.CreateAccessToken(ctx, &database.AccessToken{
		ID:     uuid.NewString(),
		Name:   rootTokenName,
		Token:  token,
		Scope:  rootScope,
		Expiry: 0,
	}); err != nil {
		return nil, err
	}
	result.Token = token

	if start {
		if err := r.StartNode(ctx, result.Tenant.Pubkey, passphrase); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CreateNode materializes a Default tenant.
func (r *Registry) CreateNode(ctx context.Context, req CreateNodeRequest) (*CreateResult, error) {
	if req.Role == "" {
		req.Role = database.RoleDefault
	}
	result, err := r.createTenant(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Start {
		if err := r.StartNode(ctx, result.Tenant.Pubkey, req.Passphrase); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// BatchCreateNodes creates each request in sequence. The registry's
// mutex already serializes StartNode, so running these concurrently
// would only contend on the same lock without shortening wall-clock
// time; sequential keeps failure handling and port bookkeeping simple.
func (r *Registry) BatchCreateNodes(ctx context.Context, reqs []CreateNodeRequest) []*CreateResult {
	out := make([]*CreateResult, len(reqs))
	for i, req := range reqs {
		res, err := r.CreateNode(ctx, req)
		if err != nil {
			out[i] = &CreateResult{}
			continue
		}
		out[i] = res
	}
	return out
}

func (r *Registry) createTenant(ctx context.Context, req CreateNodeRequest) (*CreateResult, error) {
	id := uuid.NewString()

	listenAddr := req.ListenAddr
	if listenAddr == "" {
		if ip, ok := discoverPublicIP(); ok {
			listenAddr = ip.String()
		} else {
			listenAddr = "0.0.0.0"
		}
	}

	var port int
	if req.Role == database.RoleRoot {
		port = rootListenPort
	} else {
		r.mu.Lock()
		p, err := r.ports.pop()
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		port = p
	}
	releasePort := func() {
		if req.Role != database.RoleRoot {
			r.mu.Lock()
			r.ports.pushFront(port)
			r.mu.Unlock()
		}
	}

	t := &database.Tenant{
		ID:         id,
		Username:   req.Username,
		Alias:      req.Alias,
		Network:    r.cfg.Network,
		ListenAddr: listenAddr,
		ListenPort: port,
		Role:       req.Role,
	}
	if err := r.db.CreateTenant(ctx, t); err != nil {
		releasePort()
		return nil, err
	}

	entropy, err := tenant.GenerateEntropy(req.Passphrase, id)
	if err != nil {
		releasePort()
		return nil, err
	}
	if err := r.db.CreateEntropy(ctx, entropy); err != nil {
		releasePort()
		return nil, err
	}

	pubkey, nodeSecret, err := tenant.DeriveIdentity(entropy, req.Passphrase, id, r.params)
	if err != nil {
		releasePort()
		return nil, err
	}
	if err := r.db.SetPubkey(ctx, id, pubkey); err != nil {
		releasePort()
		return nil, err
	}
	t.Pubkey = pubkey

	macaroonBytes, err := auth.MintMacaroon(ctx, r.db, nodeSecret, pubkey, defaultTenantScope)
	if err != nil {
		releasePort()
		return nil, err
	}

	return &CreateResult{Tenant: t, Macaroon: macaroonBytes}, nil
}

// StartAdmin starts the Root tenant; a thin alias over StartNode for
// callers that only know the admin passphrase, not the root's pubkey.
func (r *Registry) StartAdmin(ctx context.Context, passphrase string) error {
	root, err := r.db.GetRootTenant(ctx)
	if err != nil {
		return err
	}
	return r.StartNode(ctx, root.Pubkey, passphrase)
}

// StartNode constructs and starts a tenant's Node. Default tenants
// require the Root tenant to already be Running, since they share its
// network graph. The registry mutex is held for the whole call,
// including tenant.New's chain replay and n.Start(): per spec §4.9's
// concurrency model, a concurrent second StartNode for the same pubkey
// must block rather than race tenant.New/n.Start against the first,
// which would double-listen the tenant's port and double-register it
// with the chain listener hub.
func (r *Registry) StartNode(ctx context.Context, pubkey, passphrase string) error {
	t, err := r.db.GetTenantByPubkey(ctx, pubkey)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.nodes[pubkey]; running {
		return nil
	}
	var graph tenant.NetworkGraph
	if t.Role == database.RoleDefault {
		if r.graph == nil {
			return lnerrors.New(lnerrors.KindPrecondition, "AdminNodeNotStarted: root tenant is not running")
		}
		graph = r.graph
	}

	store, err := r.tenantStore(t.ID)
	if err != nil {
		return err
	}
	deps := r.dependencies(graph, store)

	n, err := tenant.New(ctx, t, passphrase, deps)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	r.nodes[pubkey] = &NodeHandle{Node: n}
	if t.Role == database.RoleRoot {
		r.graph = n.Graph()
	}

	return r.db.SetStatus(ctx, pubkey, database.StatusRunning)
}

// StopNode stops a running tenant's node and marks it Stopped.
func (r *Registry) StopNode(ctx context.Context, pubkey string) error {
	r.mu.Lock()
	h, ok := r.nodes[pubkey]
	if ok {
		delete(r.nodes, pubkey)
	}
	r.mu.Unlock()
	if !ok {
		return lnerrors.NotFound("tenant %s is not running", pubkey)
	}
	h.Node.Stop()
	return r.db.SetStatus(ctx, pubkey, database.StatusStopped)
}

// DeleteNode removes a Stopped tenant's row, data directory, and frees
// its listen port for reuse.
func (r *Registry) DeleteNode(ctx context.Context, pubkey string) error {
	r.mu.Lock()
	_, running := r.nodes[pubkey]
	r.mu.Unlock()
	if running {
		return lnerrors.Precondition("tenant %s must be stopped before deletion", pubkey)
	}

	t, err := r.db.GetTenantByPubkey(ctx, pubkey)
	if err != nil {
		return err
	}
	if t.Status != database.StatusStopped {
		return lnerrors.Precondition("tenant %s must be stopped before deletion", pubkey)
	}

	if err := r.db.DeleteTenant(ctx, t.ID); err != nil {
		return err
	}
	if err := removeDataDir(r.cfg.DataDir, t.ID); err != nil {
		return err
	}
	if t.Role != database.RoleRoot {
		r.mu.Lock()
		r.ports.pushFront(t.ListenPort)
		r.mu.Unlock()
	}
	return nil
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", lnerrors.Wrap(lnerrors.KindConfiguration, err, "generate access token")
	}
	return hex.EncodeToString(raw), nil
}
