package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Class int

const (
	ClassNone Class = iota
	ClassTimeout
	ClassRateLimit
	ClassServer
	ClassClient
	ClassEmpty
	ClassUnsupported
)

func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassRateLimit:
		return "rate_limit"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassEmpty:
		return "empty"
	case ClassUnsupported:
		return "unsupported"
	default:
		return "none"
	}
}

var (
	ErrEmptyReply  = errors.New("empty reply")
	ErrUnsupported = errors.New("operation not supported by provider")
)

// GatewayError wraps every failure returned by a Gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Class      Class
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Retryable() bool {
	switch e.Class {
	case ClassTimeout, ClassRateLimit, ClassServer, ClassEmpty:
		return true
	default:
		return false
	}
}

// Wrap classifies err and returns it as a *GatewayError. An error that
// already carries a gateway error yields that error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return asGatewayError(op, err)
}

func asGatewayError(op string, err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	class, code := Classify(err)
	return &GatewayError{Op: op, StatusCode: code, Class: class, Err: err}
}

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// Classify maps a transport error to a failure class and, when known, the
// HTTP status code.
func Classify(err error) (Class, int) {
	switch {
	case errors.Is(err, ErrEmptyReply):
		return ClassEmpty, 0
	case errors.Is(err, ErrUnsupported):
		return ClassUnsupported, 0
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout, 0
	case errors.Is(err, context.Canceled):
		return ClassClient, 0
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout, 0
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classForStatus(gerr.Code), gerr.Code
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return classForGRPC(st.Code())
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classForStatus(code), code
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "resource exhausted"):
		return ClassRateLimit, 0
	case strings.Contains(msg, "server error"), strings.Contains(msg, "unavailable"):
		return ClassServer, 0
	default:
		return ClassServer, 0
	}
}

func classForStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimit
	case code == 408:
		return ClassTimeout
	case code >= 500:
		return ClassServer
	case code >= 400:
		return ClassClient
	default:
		return ClassServer
	}
}

func classForGRPC(c codes.Code) (Class, int) {
	switch c {
	case codes.ResourceExhausted:
		return ClassRateLimit, 429
	case codes.DeadlineExceeded:
		return ClassTimeout, 504
	case codes.Unavailable:
		return ClassServer, 503
	case codes.Internal:
		return ClassServer, 500
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return ClassClient, 400
	case codes.Unauthenticated:
		return ClassClient, 401
	case codes.PermissionDenied:
		return ClassClient, 403
	case codes.NotFound:
		return ClassClient, 404
	default:
		return ClassServer, 0
	}
}
