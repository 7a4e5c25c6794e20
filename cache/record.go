package cache

import (
	"strings"
	"time"
)

// Category is the inbox tab Gmail assigned to a message. It is a closed
// set: labels the remote service adds in the future, or messages carrying
// no category label at all, map to CategoryUnknown rather than being
// dropped, so aggregate totals stay consistent with cache metadata.
type Category string

const (
	CategoryPrimary    Category = "primary"
	CategorySocial     Category = "social"
	CategoryPromotions Category = "promotions"
	CategoryUpdates    Category = "updates"
	CategoryForums     Category = "forums"
	CategoryUnknown    Category = "unknown"

	// CategoryAll is a filter value only, never stored on a record.
	CategoryAll Category = "all"
)

// gmailCategoryLabels maps Gmail label ids to categories.
var gmailCategoryLabels = map[string]Category{
	"CATEGORY_PERSONAL":   CategoryPrimary,
	"CATEGORY_SOCIAL":     CategorySocial,
	"CATEGORY_PROMOTIONS": CategoryPromotions,
	"CATEGORY_UPDATES":    CategoryUpdates,
	"CATEGORY_FORUMS":     CategoryForums,
}

// CategoryFromLabels derives a Category from a message's Gmail label ids.
// Messages without a CATEGORY_* label are CategoryUnknown.
func CategoryFromLabels(labels []string) Category {
	for _, l := range labels {
		if c, ok := gmailCategoryLabels[l]; ok {
			return c
		}
	}
	return CategoryUnknown
}

// ParseCategory parses a user-supplied category filter value
// (case-insensitive). It accepts the five Gmail tabs, "unknown" and "all".
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryPrimary, CategorySocial, CategoryPromotions,
		CategoryUpdates, CategoryForums, CategoryUnknown, CategoryAll:
		return c, true
	case "":
		return CategoryAll, true
	default:
		return "", false
	}
}

// Record is the cached metadata for one remote message. Records are
// immutable once fetched; they change only through an explicit re-fetch
// (staleness refresh) or removal after a successful trash.
type Record struct {
	// ID is the remote service's stable message id.
	ID string `json:"id" db:"id" bson:"_id"`

	// SenderEmail is the address extracted from the From header.
	SenderEmail string `json:"sender_email" db:"sender_email" bson:"sender_email"`

	// SenderName is the display name from the From header, falling back
	// to the address when the header carries no name.
	SenderName string `json:"sender_name" db:"sender_name" bson:"sender_name"`

	// ReceivedAt is the remote internal timestamp of the message (UTC).
	ReceivedAt time.Time `json:"received_at" db:"received_at" bson:"received_at"`

	// Category is the inbox tab derived from the message's labels.
	Category Category `json:"category" db:"category" bson:"category"`

	// ThreadID is the remote conversation id.
	ThreadID string `json:"thread_id" db:"thread_id" bson:"thread_id"`

	// FetchedAt records when this metadata was pulled from the remote
	// service. The sync engine uses it for staleness decisions.
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at" bson:"fetched_at"`
}

// Validate reports whether the record can be stored.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrInvalidID
	}
	return nil
}
