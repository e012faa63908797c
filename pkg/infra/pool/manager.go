package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Manager 池管理器，管理多个命名池
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	closed atomic.Bool
}

// NewManager 创建新的池管理器
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// Register 注册新池
func (m *Manager) Register(name string, typ Type, config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrPoolClosed
	}
	if _, exists := m.pools[name]; exists {
		return fmt.Errorf("%w: %s", ErrPoolAlreadyExists, name)
	}

	p, err := NewPool(name, typ, config)
	if err != nil {
		return err
	}
	m.pools[name] = p
	return nil
}

// RegisterWithType 使用预定义类型注册池，池名即类型名
func (m *Manager) RegisterWithType(typ Type, config *Config) error {
	return m.Register(string(typ), typ, config)
}

// Get 获取指定名称的池
func (m *Manager) Get(name string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrPoolClosed
	}
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return p, nil
}

// Submit 提交任务到指定池
func (m *Manager) Submit(name string, task func()) error {
	p, err := m.Get(name)
	if err != nil {
		return err
	}
	return p.Submit(task)
}

// SubmitWithContext 提交带上下文的任务到指定池
func (m *Manager) SubmitWithContext(ctx context.Context, name string, task func()) error {
	p, err := m.Get(name)
	if err != nil {
		return err
	}
	return p.SubmitWithContext(ctx, task)
}

// List 返回已注册池名称（有序）
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info 池运行信息
type Info struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Capacity int    `json:"capacity"`
	Running  int    `json:"running"`
	Waiting  int    `json:"waiting"`
	Stats    Stats  `json:"stats"`
}

// Stats 返回所有池的统计信息
func (m *Manager) Stats() map[string]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Info, len(m.pools))
	for name, p := range m.pools {
		out[name] = Info{
			Name:     name,
			Type:     p.Type(),
			Capacity: p.Cap(),
			Running:  p.Running(),
			Waiting:  p.Waiting(),
			Stats:    p.Stats(),
		}
	}
	return out
}

// ReleaseAll 释放所有池
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		p.Release()
	}
	m.pools = make(map[string]*Pool)
}

// ReleaseAllTimeout 带超时释放所有池
func (m *Manager) ReleaseAllTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, p := range m.pools {
		if err := p.ReleaseTimeout(timeout); err != nil {
			errs = append(errs, fmt.Errorf("release pool %s: %w", name, err))
		}
	}
	m.pools = make(map[string]*Pool)
	return utilerrors.NewAggregate(errs)
}

// Close 关闭管理器，之后不再接受注册和提交
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.ReleaseAll()
	return nil
}
