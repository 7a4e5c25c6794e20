package gmail

import (
	"context"
	"errors"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/rbaliyan/mailsweep/cache"
)

// gmailUser is the special user id meaning "the authenticated account".
const gmailUser = "me"

// metadataHeaders are the only headers the engine needs per message.
var metadataHeaders = []string{"From", "Date"}

// Compile-time check
var _ Client = (*GoogleClient)(nil)

// GoogleClient implements Client over the official Gmail v1 API service.
// The caller owns authentication: build the *gmailv1.Service with its
// oauth2 token source and hand it in.
type GoogleClient struct {
	svc *gmailv1.Service
}

// NewGoogleClient returns a Client backed by the given Gmail service.
func NewGoogleClient(svc *gmailv1.Service) *GoogleClient {
	return &GoogleClient{svc: svc}
}

// ListMessageIDs returns one page of message ids, excluding spam and trash.
func (c *GoogleClient) ListMessageIDs(ctx context.Context, cursor string, pageSize int64) (ListPage, error) {
	call := c.svc.Users.Messages.List(gmailUser).
		MaxResults(pageSize).
		IncludeSpamTrash(false).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	res, err := call.Do()
	if err != nil {
		return ListPage{}, ClassifyError(err)
	}

	page := ListPage{
		IDs:        make([]string, 0, len(res.Messages)),
		NextCursor: res.NextPageToken,
		Done:       res.NextPageToken == "",
	}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// FetchHeaders retrieves metadata for the given ids one message at a time
// (the REST client has no multi-get); the whole batch still counts as one
// rate-limiter unit, which is why batch sizes stay small. Ids deleted
// remotely since listing are skipped.
func (c *GoogleClient) FetchHeaders(ctx context.Context, ids []string) ([]cache.Record, error) {
	records := make([]cache.Record, 0, len(ids))
	now := time.Now().UTC()

	for _, id := range ids {
		msg, err := c.svc.Users.Messages.Get(gmailUser, id).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Context(ctx).
			Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == 404 {
				continue // deleted between listing and fetch
			}
			return records, ClassifyError(err)
		}
		records = append(records, recordFromMessage(msg, now))
	}
	return records, nil
}

// recordFromMessage maps a Gmail metadata response onto a cache record.
func recordFromMessage(msg *gmailv1.Message, fetchedAt time.Time) cache.Record {
	var from string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h.Name == "From" {
				from = h.Value
				break
			}
		}
	}
	email, name := ParseSender(from)

	return cache.Record{
		ID:          msg.Id,
		SenderEmail: email,
		SenderName:  name,
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		Category:    cache.CategoryFromLabels(msg.LabelIds),
		ThreadID:    msg.ThreadId,
		FetchedAt:   fetchedAt,
	}
}

// Trash moves the ids to the trash with one batchModify call. Gmail applies
// the label change to the whole batch atomically, so on success every id
// maps to nil; on failure the transport error is returned and no outcomes
// are reported.
func (c *GoogleClient) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	if len(ids) == 0 {
		return map[string]error{}, nil
	}

	req := &gmailv1.BatchModifyMessagesRequest{
		Ids:         ids,
		AddLabelIds: []string{"TRASH"},
	}
	if err := c.svc.Users.Messages.BatchModify(gmailUser, req).Context(ctx).Do(); err != nil {
		return nil, ClassifyError(err)
	}

	outcomes := make(map[string]error, len(ids))
	for _, id := range ids {
		outcomes[id] = nil
	}
	return outcomes, nil
}

// AccountInfo returns the mailbox profile.
func (c *GoogleClient) AccountInfo(ctx context.Context) (*Account, error) {
	profile, err := c.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, ClassifyError(err)
	}
	return &Account{
		EmailAddress:  profile.EmailAddress,
		MessagesTotal: profile.MessagesTotal,
		ThreadsTotal:  profile.ThreadsTotal,
		HistoryID:     profile.HistoryId,
	}, nil
}
