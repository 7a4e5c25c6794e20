package gmail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// Sentinel errors classifying remote failures. The sync controller and bulk
// trasher branch on these: auth failures abort a run, rate-limit and
// transport failures are retried with backoff.
var (
	// ErrAuth means the credentials are invalid or expired. Fatal to the
	// current sync run; never retried.
	ErrAuth = errors.New("gmail: authentication failed")

	// ErrRateLimited means the remote service signaled throttling.
	// Retryable, and distinguished from ErrTransport so callers can back
	// off harder.
	ErrRateLimited = errors.New("gmail: rate limit exceeded")

	// ErrTransport covers network and other HTTP-level failures.
	ErrTransport = errors.New("gmail: transport failure")
)

// ClassifyError wraps err with the matching sentinel. Context cancellation
// passes through unchanged so callers can tell a stop apart from a fault.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || isRateLimitReason(apiErr):
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// isRateLimitReason detects Gmail's habit of reporting quota exhaustion as
// HTTP 403 with a rateLimitExceeded reason.
func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "ateLimit") || item.Reason == "quotaExceeded" {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is worth retrying with backoff:
// rate-limit and transport failures are, auth failures and cancellations
// are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}
