// Package gmail defines the narrow Gmail surface the sync engine requires
// and implements it over the official google.golang.org/api client.
//
// The client is a stateless transport: it does no rate limiting, retrying
// or caching of its own. Callers (the sync controller and the bulk trasher)
// wrap every call with the rate limiter and the retry policy.
package gmail

import (
	"context"

	"github.com/rbaliyan/mailsweep/cache"
)

// Client is the capability interface to the remote mail service.
type Client interface {
	// ListMessageIDs returns one page of message ids starting at cursor
	// (empty for the first page). Done is true when no further pages
	// exist.
	ListMessageIDs(ctx context.Context, cursor string, pageSize int64) (ListPage, error)

	// FetchHeaders retrieves the metadata records for the given ids.
	// Ids that no longer exist remotely are silently omitted from the
	// result; any other failure aborts the whole batch.
	FetchHeaders(ctx context.Context, ids []string) ([]cache.Record, error)

	// Trash moves the given ids to the trash in a single remote batch
	// call and reports the per-id outcome (nil for success). A returned
	// error means the whole batch failed in transport.
	Trash(ctx context.Context, ids []string) (map[string]error, error)

	// AccountInfo returns profile-level information for the mailbox.
	AccountInfo(ctx context.Context) (*Account, error)
}

// ListPage is one page of a mailbox listing.
type ListPage struct {
	// IDs are the message ids on this page, in listing order.
	IDs []string
	// NextCursor resumes the listing; empty when Done.
	NextCursor string
	// Done is true when the listing is exhausted.
	Done bool
}

// Account is the profile-level mailbox information, proxied to callers and
// never cached.
type Account struct {
	EmailAddress  string `json:"email_address"`
	MessagesTotal int64  `json:"total_messages"`
	ThreadsTotal  int64  `json:"threads_total"`
	HistoryID     uint64 `json:"history_id"`
}
