package biz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTenantID(t *testing.T) {
	for _, id := range []string{"t1", "acme_corp-01", "A"} {
		assert.NoError(t, ValidateTenantID(id), id)
	}
	for _, id := range []string{"", "has space", "semi;colon", "../etc", strings.Repeat("a", 65)} {
		assert.ErrorIs(t, ValidateTenantID(id), ErrInvalidTenant, id)
	}
}

func TestService_EndToEnd(t *testing.T) {
	env := newTestEnv(t, cheddarChat(), nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4), record("Flour", "DRY", 1.5))
	env.source.Put("t2", record("Olive Oil", "DRY", 9))
	ctx := context.Background()

	init1, err := env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, init1.Status)
	assert.Equal(t, "inventory-t1", init1.IndexName)
	require.NotNil(t, init1.Report)
	assert.Equal(t, 2, init1.Report.Indexed)

	_, err = env.service.Initialize(ctx, "t2", false)
	require.NoError(t, err)

	resp, err := env.service.Query(ctx, "t1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.Equal(t, Ready, resp.Status)
	assert.Contains(t, resp.Answer, "$4")

	// t2 的检索结果中没有 Cheddar
	resp, err = env.service.Query(ctx, "t2", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.NotContains(t, resp.Answer, "$4")
	assert.NotContains(t, env.chat.lastRequest().UserPrompt, "Cheddar\n")
}

func TestService_InitializeExistingAndForce(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()

	_, err := env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)

	again, err := env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusExisting, again.Status)
	assert.Nil(t, again.Report)
	assert.Equal(t, 1, env.gateway.Calls().Create)

	forced, err := env.service.Initialize(ctx, "t1", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, forced.Status)
	assert.Equal(t, 2, env.gateway.Calls().Create)
}

func TestService_InitializeErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.service.Initialize(context.Background(), "bad id", false)
	assert.ErrorIs(t, err, ErrInvalidTenant)

	_, err = env.service.Initialize(context.Background(), "empty", false)
	assert.ErrorIs(t, err, ErrNoInventoryFound)
	assert.Equal(t, KindNotFound, Kind(err))
}

func TestService_QueryPreparing(t *testing.T) {
	env := newTestEnv(t, cheddarChat(), nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()

	resp, err := env.service.Query(ctx, "t1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.Equal(t, Preparing, resp.Status)
	assert.Equal(t, PreparingMessage, resp.Answer)
	assert.Equal(t, 0, env.chat.calls())

	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = env.service.Query(ctx, "t1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.Equal(t, Ready, resp.Status)
	assert.Contains(t, resp.Answer, "$4")
}

func TestService_QueryValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.service.Query(context.Background(), "t1", "   ")
	assert.ErrorIs(t, err, ErrInvalidQuestion)

	_, err = env.service.Query(context.Background(), "t/1", "q")
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestService_QueryCache(t *testing.T) {
	cache, _ := setupTestCache(t)
	env := newTestEnv(t, cheddarChat(), cache)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()

	_, err := env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)

	first, err := env.service.Query(ctx, "t1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := env.service.Query(ctx, "t1", "how much does cheddar cost?")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, env.chat.calls())

	// 刷新后缓存失效
	_, err = env.service.Refresh(ctx, "t1")
	require.NoError(t, err)
	third, err := env.service.Query(ctx, "t1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, env.chat.calls())
	assert.Equal(t, uint64(1), env.metrics.Stats()["queries_cache_hits"])
}

func TestService_QueryFallbackNotCached(t *testing.T) {
	cache, _ := setupTestCache(t)
	env := newTestEnv(t, nil, cache)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()
	_, err := env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)

	env.embedder.failWhenContains("broken", errBadInput)
	for i := 0; i < 2; i++ {
		resp, err := env.service.Query(ctx, "t1", "broken question")
		require.NoError(t, err)
		assert.Equal(t, ErrorMessage, resp.Answer)
		assert.False(t, resp.Cached)
	}
	assert.Equal(t, uint64(2), env.metrics.Stats()["queries_fallback"])
}

func TestService_Refresh(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()

	created, err := env.service.Refresh(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, created.Status)

	env.source.Put("t1", record("ignored", "DRY", 1))
	refreshed, err := env.service.Refresh(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, refreshed.Status)
	require.NotNil(t, refreshed.Report)
	assert.Equal(t, 1, refreshed.Report.Indexed)
}

func TestService_Status(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4), record("Flour", "DRY", 1.5))
	ctx := context.Background()

	status, err := env.service.Status(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.IndexExists)
	assert.False(t, status.PipelineLoaded)
	assert.Equal(t, StateUnregistered, status.State)

	_, err = env.service.Initialize(ctx, "t1", false)
	require.NoError(t, err)

	status, err = env.service.Status(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, status.IndexExists)
	assert.True(t, status.PipelineLoaded)
	assert.Equal(t, StateReady, status.State)
	assert.Equal(t, int64(2), status.DocumentCount)
	assert.Equal(t, "inventory-t1", status.IndexName)
}

func TestService_SimilarTenantIDsAreIsolated(t *testing.T) {
	env := newTestEnv(t, cheddarChat(), nil)
	env.source.Put("acme-1", record("Cheddar", "DAIRY", 4))
	ctx := context.Background()

	_, err := env.service.Initialize(ctx, "acme-1", false)
	require.NoError(t, err)

	// acme_1 没有数据，不能连接到 acme-1 的集合
	_, err = env.service.Initialize(ctx, "acme_1", false)
	require.ErrorIs(t, err, ErrNoInventoryFound)

	env.source.Put("acme_1", record("Olive Oil", "DRY", 9))
	created, err := env.service.Initialize(ctx, "acme_1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, created.Status)

	// 重建 acme_1 不影响 acme-1
	resp, err := env.service.Query(ctx, "acme-1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.Equal(t, Ready, resp.Status)
	assert.Contains(t, resp.Answer, "$4")

	resp, err = env.service.Query(ctx, "acme_1", "How much does Cheddar cost?")
	require.NoError(t, err)
	assert.NotContains(t, resp.Answer, "$4")
}

func TestService_QueryReportsMissingInventoryAfterBackgroundBuild(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	resp, err := env.service.Query(ctx, "t1", "What is in stock?")
	require.NoError(t, err)
	assert.Equal(t, Preparing, resp.Status)

	assert.Eventually(t, func() bool {
		_, err := env.service.Query(ctx, "t1", "What is in stock?")
		return errors.Is(err, ErrNoInventoryFound)
	}, 2*time.Second, 10*time.Millisecond)
}
