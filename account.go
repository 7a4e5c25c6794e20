package mailsweep

import (
	"context"

	"github.com/rbaliyan/mailsweep/gmail"
	"github.com/rbaliyan/mailsweep/retry"
)

// AccountInfo proxies profile-level account information from the remote
// service through the rate budget. The profile is never cached: it is one
// cheap call and callers expect live totals.
func (s *service) AccountInfo(ctx context.Context) (*gmail.Account, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	return s.fetchAccountInfo(ctx)
}

// fetchAccountInfo is the limiter- and retry-wrapped profile fetch, shared
// by AccountInfo and the sync loop's progress denominator.
func (s *service) fetchAccountInfo(ctx context.Context) (*gmail.Account, error) {
	return retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) (*gmail.Account, error) {
		var account *gmail.Account
		err := s.limiter.Do(ctx, func(ctx context.Context) error {
			var e error
			account, e = s.client.AccountInfo(ctx)
			return e
		})
		return account, err
	})
}
