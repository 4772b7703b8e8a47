package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/test/util"
)

func testDeps() app.Deps {
	return app.Deps{
		LLM:   agent.NewScriptedClient(agent.ScriptedTurn{Content: "ok"}),
		Tools: agent.NewRegistry(),
		Cfg:   &config.Config{SupervisorTimeout: time.Minute},
	}
}

// newTestRouter pins the router's default schema to a throwaway schema so
// parallel tests never share the public schema.
func newTestRouter(t *testing.T, multiTenant bool) *Router {
	t.Helper()
	ctx := context.Background()

	baseCfg := util.BaseConfig(t)
	defaultSchema := util.GenerateSchemaName(t)

	bootstrap, err := database.NewClient(ctx, baseCfg)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, bootstrap.DB(), defaultSchema))
	t.Cleanup(func() {
		_ = database.DropSchema(context.Background(), bootstrap.DB(), defaultSchema)
		_ = bootstrap.Close()
	})

	router, err := NewRouter(ctx, baseCfg.WithSchema(defaultSchema), testDeps(), multiTenant)
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })
	return router
}

func TestResolveSingleTenantIgnoresHeader(t *testing.T) {
	router := newTestRouter(t, false)
	ctx := context.Background()

	ws, err := router.Resolve(ctx, "some_tenant")
	require.NoError(t, err)
	assert.Same(t, router.Default(), ws)

	ws, err = router.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Same(t, router.Default(), ws)
}

func TestResolveMultiTenantHeaderRules(t *testing.T) {
	router := newTestRouter(t, true)
	ctx := context.Background()

	_, err := router.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = router.Resolve(ctx, "Bad-Name!")
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestTenantWorkspaceIsolation(t *testing.T) {
	router := newTestRouter(t, true)
	ctx := context.Background()

	tenantWS, err := router.Get(ctx, "tenant_iso")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.DropSchema(context.Background(), router.Default().DB.DB(), "tenant_iso")
	})

	// Same tenant resolves to the cached workspace.
	again, err := router.Get(ctx, "tenant_iso")
	require.NoError(t, err)
	assert.Same(t, tenantWS, again)

	// Rows written in the tenant workspace stay out of the default one.
	_, err = tenantWS.Users.GetOrCreateByEmail(ctx, "iso@example.com")
	require.NoError(t, err)

	defaultCount, err := router.Default().DB.User.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, defaultCount)

	tenantCount, err := tenantWS.DB.User.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tenantCount)

	assert.Len(t, router.Workspaces(), 2)
}
