package postgres

import (
	"time"

	"github.com/rbaliyan/mailsweep/cache"
)

// row is the database representation of a cached record.
type row struct {
	ID          string    `db:"id"`
	SenderEmail string    `db:"sender_email"`
	SenderName  string    `db:"sender_name"`
	ReceivedAt  time.Time `db:"received_at"`
	Category    string    `db:"category"`
	ThreadID    string    `db:"thread_id"`
	FetchedAt   time.Time `db:"fetched_at"`
}

func (r row) record() cache.Record {
	return cache.Record{
		ID:          r.ID,
		SenderEmail: r.SenderEmail,
		SenderName:  r.SenderName,
		ReceivedAt:  r.ReceivedAt.UTC(),
		Category:    cache.Category(r.Category),
		ThreadID:    r.ThreadID,
		FetchedAt:   r.FetchedAt.UTC(),
	}
}
