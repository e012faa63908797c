package pool

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

var (
	globalManager   *Manager
	globalManagerMu sync.Mutex
)

// GlobalConfig 全局池配置，nil 字段表示不注册该池
type GlobalConfig struct {
	DefaultPool    *Config
	BackgroundPool *Config
}

// DefaultGlobalConfig 返回默认全局配置
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		DefaultPool:    DefaultPoolConfig(),
		BackgroundPool: BackgroundPoolConfig(),
	}
}

// InitGlobal 使用默认配置初始化全局池管理器
func InitGlobal() error {
	return InitGlobalWithConfig(nil)
}

// InitGlobalWithConfig 使用自定义配置初始化全局池管理器，重复调用无副作用
func InitGlobalWithConfig(config *GlobalConfig) error {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager != nil {
		return nil
	}
	if config == nil {
		config = DefaultGlobalConfig()
	}

	manager := NewManager()
	pools := []struct {
		typ Type
		cfg *Config
	}{
		{DefaultPool, config.DefaultPool},
		{BackgroundPool, config.BackgroundPool},
	}
	for _, entry := range pools {
		if entry.cfg == nil {
			continue
		}
		if err := manager.RegisterWithType(entry.typ, entry.cfg); err != nil {
			manager.ReleaseAll()
			return err
		}
	}

	globalManager = manager
	logger.Infow("Global pool manager initialized", "pools", manager.List())
	return nil
}

// GetGlobal 获取全局池管理器，未初始化时返回 nil
func GetGlobal() *Manager {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()
	return globalManager
}

// CloseGlobalTimeout 带超时关闭全局池管理器
func CloseGlobalTimeout(timeout time.Duration) error {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager == nil {
		return nil
	}
	err := globalManager.ReleaseAllTimeout(timeout)
	globalManager = nil
	logger.Infow("Global pool manager closed", "timeout", timeout)
	return err
}

// ResetGlobal 重置全局池管理器（仅用于测试）
func ResetGlobal() {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager != nil {
		globalManager.ReleaseAll()
		globalManager = nil
	}
}

// SubmitToType 提交任务到指定类型的全局池
func SubmitToType(typ Type, task func()) error {
	mgr := GetGlobal()
	if mgr == nil {
		return ErrManagerNotInitialized
	}
	return mgr.Submit(string(typ), task)
}

// SubmitWithContext 提交带上下文的任务到指定类型的全局池
func SubmitWithContext(ctx context.Context, typ Type, task func()) error {
	mgr := GetGlobal()
	if mgr == nil {
		return ErrManagerNotInitialized
	}
	return mgr.SubmitWithContext(ctx, string(typ), task)
}

// StatsGlobal returns statistics for all pools.
func StatsGlobal() map[string]Info {
	mgr := GetGlobal()
	if mgr == nil {
		return nil
	}
	return mgr.Stats()
}
