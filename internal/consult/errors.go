package consult

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrEmptyBody indicates the server answered with no response body.
var ErrEmptyBody = errors.New("consult: empty response body")

// StatusError indicates a non-2xx HTTP response. The body is not parsed.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("consult: server returned HTTP %d", e.Code)
}

// ParseError indicates the response body was received but is not a
// well-formed envelope. Distinct from transport failures.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "consult: parse response: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// EnvelopeError indicates the transport succeeded but the envelope
// status is not the success sentinel.
type EnvelopeError struct {
	Status  string
	Message string
}

func (e *EnvelopeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("consult: server rejected request (%s): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("consult: server rejected request (%s)", e.Status)
}

// UserMessage maps an error from Send to a user-facing message. The
// transport categories are best-effort string matching over low-level
// error text, not a typed taxonomy; unmatched errors fall through to a
// generic network message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var envErr *EnvelopeError
	if errors.As(err, &envErr) {
		if envErr.Message != "" {
			return envErr.Message
		}
		return "请求失败"
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "数据解析失败：" + parseErr.Err.Error()
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("服务器错误：%d", statusErr.Code)
	}

	if errors.Is(err, ErrEmptyBody) {
		return "服务器返回空响应"
	}

	return transportMessage(err)
}

// transportMessage categorizes a transport-level failure.
func transportMessage(err error) string {
	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())

	text := strings.ToLower(err.Error())
	switch {
	case timedOut || strings.Contains(text, "timeout"):
		return "请求超时，请检查网络后重试"
	case isHostLookupFailure(err) || strings.Contains(text, "no such host"):
		return "无法连接服务器，请检查网络设置"
	case strings.Contains(text, "connection refused"):
		return "服务器拒绝连接，请稍后重试"
	case strings.Contains(text, "failed to connect"), strings.Contains(text, "connection reset"):
		return "连接服务器失败，请检查网络"
	default:
		return "网络错误：" + err.Error()
	}
}

func isHostLookupFailure(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
