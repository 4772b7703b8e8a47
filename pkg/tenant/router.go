// Package tenant routes requests to per-tenant workspaces. Each tenant lives
// in its own Postgres schema; the first request for a tenant creates the
// schema, migrates it, and builds its workspace lazily.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/database"
)

var (
	// ErrMissingTenant is returned when schema routing is enabled and the
	// request carries no tenant header.
	ErrMissingTenant = errors.New("tenant header required")

	// ErrInvalidTenant is returned for tenant identifiers that are not safe
	// schema names.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// defaultKey indexes the workspace bound to the connection's default schema.
const defaultKey = "default"

// Router owns every live workspace. Safe for concurrent use; workspace
// construction is serialized per tenant so concurrent first requests migrate
// a schema exactly once.
type Router struct {
	baseCfg     database.Config
	deps        app.Deps
	multiTenant bool

	mu          sync.Mutex
	workspaces  map[string]*app.Workspace
	tenantLocks map[string]*sync.Mutex
}

// NewRouter opens the default-schema workspace eagerly (running its
// migrations) and serves tenant schemas lazily.
func NewRouter(ctx context.Context, baseCfg database.Config, deps app.Deps, multiTenant bool) (*Router, error) {
	db, err := database.NewClient(ctx, baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open default workspace: %w", err)
	}

	r := &Router{
		baseCfg:     baseCfg,
		deps:        deps,
		multiTenant: multiTenant,
		workspaces:  map[string]*app.Workspace{defaultKey: app.NewWorkspace("", db, deps)},
		tenantLocks: make(map[string]*sync.Mutex),
	}
	return r, nil
}

// MultiTenant reports whether schema routing is enabled.
func (r *Router) MultiTenant() bool {
	return r.multiTenant
}

// Default returns the workspace on the connection's default schema.
func (r *Router) Default() *app.Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workspaces[defaultKey]
}

// Resolve maps a tenant header value to a workspace. With routing disabled
// the header is ignored and every request shares the default workspace. With
// routing enabled a missing header is an error: silently falling back to the
// default schema would mix tenants' data.
func (r *Router) Resolve(ctx context.Context, header string) (*app.Workspace, error) {
	if !r.multiTenant {
		return r.Default(), nil
	}
	if header == "" {
		return nil, ErrMissingTenant
	}
	return r.Get(ctx, header)
}

// Get returns the workspace for a tenant, creating schema, migrations, and
// workspace on first use.
func (r *Router) Get(ctx context.Context, tenantID string) (*app.Workspace, error) {
	if tenantID == "" {
		return r.Default(), nil
	}
	if !database.ValidSchemaName(tenantID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}

	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	ws, ok := r.workspaces[tenantID]
	r.mu.Unlock()
	if ok {
		return ws, nil
	}

	admin := r.Default()
	if err := database.EnsureSchema(ctx, admin.DB.DB(), tenantID); err != nil {
		return nil, err
	}

	db, err := database.NewClient(ctx, r.baseCfg.WithSchema(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace for tenant %s: %w", tenantID, err)
	}

	ws = app.NewWorkspace(tenantID, db, r.deps)
	r.mu.Lock()
	r.workspaces[tenantID] = ws
	r.mu.Unlock()

	slog.Info("tenant workspace created", "tenant", tenantID)
	return ws, nil
}

// Workspaces snapshots every live workspace. Background loops (dispatcher,
// reapers) iterate this; tenants nobody has touched have no queue to drain.
func (r *Router) Workspaces() []*app.Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*app.Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	return out
}

// Close releases every workspace's database resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, ws := range r.workspaces {
		if err := ws.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.workspaces, key)
	}
	return firstErr
}

func (r *Router) tenantLock(tenantID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		r.tenantLocks[tenantID] = l
	}
	return l
}
