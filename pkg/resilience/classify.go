package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// temporary 由 httpclient.StatusError 等错误实现。
type temporary interface {
	Temporary() bool
}

// IsRetryableError 判断错误是否属于瞬时故障：网络错误、超时、HTTP 429/5xx、
// gRPC Unavailable/ResourceExhausted 以及连接中断。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitBreakerOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
			return true
		}
	}

	return false
}

// ClassifyTransient 对瞬时故障返回 RetryAlways，其余返回 Stop。
func ClassifyTransient(err error) Decision {
	if IsRetryableError(err) {
		return RetryAlways
	}
	return Stop
}
