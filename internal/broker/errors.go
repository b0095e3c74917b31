package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrMissingCredentials 表示登录参数不完整。
	ErrMissingCredentials = errors.New("broker: missing credentials")
	// ErrSessionExpired 表示券商拒绝了当前会话令牌。
	ErrSessionExpired = errors.New("broker: session expired")
)

// APIError 为券商接口返回的非成功响应。
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker: %s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("broker: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Unwrap 让 401/403 可以用 errors.Is(err, ErrSessionExpired) 判断。
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrSessionExpired
	}
	return nil
}

// IsRetryable 判断错误是否属于瞬时故障。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
