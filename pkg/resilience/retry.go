// Package resilience 提供外部调用的韧性模式：有界指数退避重试与熔断器。
// 重试与具体调用无关，Embedding 生成与向量索引写入共用同一套策略。
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kart-io/logger"
)

// Decision 描述某个错误发生后的重试决策。
type Decision int

const (
	// Stop 不可重试，错误原样返回。
	Stop Decision = iota
	// RetryAlways 可重试，直到达到最大尝试次数。
	RetryAlways
	// RetryOnce 仅允许一次确认性重试，再次出现时按永久错误返回。
	RetryOnce
)

func (d Decision) String() string {
	switch d {
	case RetryAlways:
		return "retry"
	case RetryOnce:
		return "retry-once"
	default:
		return "stop"
	}
}

// ErrRetryExhausted 用于 errors.Is 判断重试次数耗尽。
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryExhaustedError 在达到最大尝试次数后返回，包装最后一次错误。
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) reached: %v", e.Attempts, e.Last)
}

// Unwrap 同时暴露 ErrRetryExhausted 与最后一次错误。
func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}

// RetryConfig 重试配置。
type RetryConfig struct {
	// MaxAttempts 最大尝试次数（包括首次调用）。
	MaxAttempts int
	// InitialDelay 首次重试前的等待时间。
	InitialDelay time.Duration
	// MaxDelay 单次等待上限。
	MaxDelay time.Duration
	// Multiplier 退避倍增因子。
	Multiplier float64
	// Classify 决定错误是否重试，为空时使用 ClassifyTransient。
	Classify func(error) Decision
	// OnRetry 每次决定重试时回调（可选），用于指标统计。
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig 返回默认重试配置：3 次尝试，4s 起步，上限 10s。
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 4 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Classify:     ClassifyTransient,
	}
}

// Backoff 返回第 attempt 次失败之后的等待时间（attempt 从 1 开始）。
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Retry 按配置执行 fn，直到成功、遇到不可重试错误、次数耗尽或 ctx 结束。
func Retry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	classify := config.Classify
	if classify == nil {
		classify = ClassifyTransient
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	confirmed := false
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch classify(err) {
		case Stop:
			return err
		case RetryOnce:
			if confirmed {
				logger.Warnw("error persisted after confirming retry", "attempt", attempt, "error", err.Error())
				return err
			}
			confirmed = true
		}

		if attempt >= maxAttempts {
			logger.Warnw("max retry attempts reached", "attempts", attempt, "error", err.Error())
			return &RetryExhaustedError{Attempts: attempt, Last: err}
		}

		delay := config.Backoff(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, err)
		}
		logger.Debugw("retrying after delay", "attempt", attempt, "delay", delay, "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Do 是 Retry 的泛型版本，返回最后一次成功调用的结果。
func Do[T any](ctx context.Context, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
