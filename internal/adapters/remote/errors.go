package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for remote store failures.
var (
	ErrUnreachable      = errors.New("remote store unreachable")
	ErrPermissionDenied = errors.New("remote store permission denied")
	ErrNotFound         = errors.New("remote document not found")
	ErrContention       = errors.New("remote document under contention")
)

// Error classes reported to metrics.
const (
	ClassUnreachable      = "unreachable"
	ClassPermissionDenied = "permission_denied"
	ClassNotFound         = "not_found"
	ClassContention       = "contention"
	ClassOther            = "other"
)

// Classify maps err to one of the Class* labels.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ClassPermissionDenied
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return ClassUnreachable
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrContention):
		return ClassContention
	default:
		return ClassOther
	}
}

// ClassifyRedis wraps a go-redis error with the matching sentinel.
func ClassifyRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	msg := err.Error()
	for _, prefix := range []string{"NOPERM", "NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnreachable, err)
	}
	return err
}
