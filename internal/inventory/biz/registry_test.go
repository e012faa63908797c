package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/inventory-rag/internal/inventory/store"
)

func TestRegistry_ConcurrentResolveBuildsOnce(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4), record("Flour", "DRY", 1.5))

	const callers = 8
	var (
		wg      sync.WaitGroup
		created = make(chan bool, callers)
		pipes   = make(chan *TenantPipeline, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, c, err := env.registry.Resolve(context.Background(), "t1")
			assert.NoError(t, err)
			created <- c
			pipes <- p
		}()
	}
	wg.Wait()
	close(created)
	close(pipes)

	builds := 0
	for c := range created {
		if c {
			builds++
		}
	}
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, env.gateway.Calls().Create)

	var first *TenantPipeline
	for p := range pipes {
		if first == nil {
			first = p
		}
		assert.Same(t, first, p)
	}
	assert.Equal(t, "inventory-t1", first.IndexName)
	assert.Equal(t, StateReady, env.registry.State("t1"))
}

func TestRegistry_ResolveConnectsToExistingIndex(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))

	_, err := env.registry.Rebuild(context.Background(), "t1")
	require.NoError(t, err)

	// 新注册表模拟进程重启
	fresh := NewTenantRegistry(env.registry.factory, env.gateway, env.registry.queue, nil, nil)
	p, created, err := fresh.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, p.Report)
	assert.Equal(t, 1, env.gateway.Calls().Create)
}

func TestRegistry_ResolveFailureLeavesTenantUnregistered(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, _, err := env.registry.Resolve(context.Background(), "t1")
	require.ErrorIs(t, err, ErrNoInventoryFound)

	_, ok := env.registry.Lookup("t1")
	assert.False(t, ok)
	assert.Equal(t, StateUnregistered, env.registry.State("t1"))
}

func TestRegistry_RebuildReplacesPipeline(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))

	first, _, err := env.registry.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	second, err := env.registry.Rebuild(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	current, ok := env.registry.Lookup("t1")
	require.True(t, ok)
	assert.Same(t, second, current)
	assert.Equal(t, 2, env.gateway.Calls().Create)
}

func TestRegistry_ResolveForQueryPreparingThenReady(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))

	p, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, Preparing, readiness)

	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	p, readiness, err = env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Ready, readiness)
	assert.NotNil(t, p)
	assert.Eventually(t, func() bool {
		return env.metrics.Stats()["background_builds"] == uint64(1)
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ResolveForQueryConnectsSynchronously(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	_, err := env.registry.Rebuild(context.Background(), "t1")
	require.NoError(t, err)

	fresh := NewTenantRegistry(env.registry.factory, env.gateway, env.registry.queue, nil, nil)
	p, readiness, err := fresh.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Ready, readiness)
	assert.NotNil(t, p)
}

func TestRegistry_BackgroundBuildDeduplicated(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))

	release := make(chan struct{})
	var (
		mu        sync.Mutex
		submitted int
	)
	env.registry.queue = TaskQueueFunc(func(task func()) error {
		mu.Lock()
		submitted++
		mu.Unlock()
		go func() {
			<-release
			task()
		}()
		return nil
	})

	for i := 0; i < 5; i++ {
		_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, Preparing, readiness)
	}

	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateInitializing
	}, time.Second, 5*time.Millisecond)

	close(release)
	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, env.gateway.Calls().Create)
}

func TestRegistry_BackgroundBuildFailureIsCounted(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.registry.queue = TaskQueueFunc(func(func()) error {
		return errors.New("pool closed")
	})

	_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Preparing, readiness)

	// 队列不可用时回退到 goroutine，构建因无数据失败
	assert.Eventually(t, func() bool {
		return env.metrics.Stats()["background_build_errors"] == uint64(1)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateUnregistered
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ResolveForQueryDoesNotWaitForInFlightBuild(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	env.embedder.gate = make(chan struct{})

	_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Preparing, readiness)

	// 索引已创建，嵌入仍被阻塞
	assert.Eventually(t, func() bool {
		return env.gateway.Calls().Create == 1
	}, 2*time.Second, 5*time.Millisecond)
	exists, err := env.gateway.Exists(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, exists)

	type result struct {
		readiness QueryReadiness
		err       error
	}
	results := make(chan result, 1)
	go func() {
		_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
		results <- result{readiness: readiness, err: err}
	}()

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, Preparing, r.readiness)
	case <-time.After(time.Second):
		close(env.embedder.gate)
		t.Fatal("query blocked on the in-flight build")
	}

	close(env.embedder.gate)
	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.gateway.Calls().Create)
}

func TestRegistry_BackgroundBuildWithoutInventorySurfacesNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	clock := newTestClock()
	env.registry.now = clock.Now

	_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Preparing, readiness)

	assert.Eventually(t, func() bool {
		_, _, err := env.registry.ResolveForQuery(context.Background(), "t1")
		return errors.Is(err, ErrNoInventoryFound)
	}, 2*time.Second, 10*time.Millisecond)

	// 重试窗口内不重复构建
	_, _, err = env.registry.ResolveForQuery(context.Background(), "t1")
	require.ErrorIs(t, err, ErrNoInventoryFound)
	assert.Equal(t, KindNotFound, Kind(err))
	assert.Equal(t, uint64(1), env.metrics.Stats()["background_build_errors"])

	// 数据到达且窗口过期后重新构建
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	clock.Advance(DefaultFailureRetryAfter)
	assert.NoError(t, env.registry.LastBuildError("t1"))

	assert.Eventually(t, func() bool {
		_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
		return err == nil && readiness == Ready
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, env.registry.LastBuildError("t1"))
}

func TestRegistry_FailedBackgroundBuildDropsPartialIndex(t *testing.T) {
	errDiskFull := errors.New("disk full")
	env := newTestEnvWithGateway(t, nil, nil, func(g *store.MemoryGateway) store.VectorIndexGateway {
		return &failingUpsertGateway{MemoryGateway: g, err: errDiskFull}
	})
	env.source.Put("t1", record("Cheddar", "DAIRY", 4))

	_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Preparing, readiness)

	assert.Eventually(t, func() bool {
		return env.registry.LastBuildError("t1") != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return env.registry.State("t1") == StateUnregistered
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, env.gateway.Calls().Create)
	exists, err := env.gateway.Exists(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, exists)

	// 不会连接到空集合
	p, _, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.ErrorIs(t, err, errDiskFull)
	assert.Nil(t, p)
	_, ok := env.registry.Lookup("t1")
	assert.False(t, ok)
}

func TestRegistry_SuccessfulInitializeClearsBuildFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, _, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return env.registry.LastBuildError("t1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	env.source.Put("t1", record("Cheddar", "DAIRY", 4))
	_, err = env.registry.Rebuild(context.Background(), "t1")
	require.NoError(t, err)

	assert.NoError(t, env.registry.LastBuildError("t1"))
	_, readiness, err := env.registry.ResolveForQuery(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Ready, readiness)
}
