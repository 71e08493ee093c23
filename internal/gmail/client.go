package gmail

import (
	"context"
	"errors"
)

// MaxBatchModify is the hard cap Gmail places on ids per batchModify call.
const MaxBatchModify = 1000

// ErrLabelExists is returned by CreateLabel when a label with the same name
// already exists on the account.
var ErrLabelExists = errors.New("label already exists")

// Client is the narrow Gmail surface required by sieve.
type Client interface {
	ListThreads(ctx context.Context, q Query, pageToken string, pageSize int) (ThreadPage, error)
	GetThread(ctx context.Context, id ThreadID, headers []string) (RawThread, error)
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	BatchModify(ctx context.Context, ids []MessageID, ops ModifyOps) error
}

// MetadataHeaders is the allowlist requested when hydrating a thread.
func MetadataHeaders() []string {
	return []string{
		"to",
		"cc",
		"bcc",
		"from",
		"date",
		"list-id",
		"subject",
		"delivered-to",
		"precedence",
		"sender",
		"reply-to",
		"in-reply-to",
		"mailing-list",
	}
}

// IsMetadataHeader reports whether name is part of the hydration allowlist.
func IsMetadataHeader(name string) bool {
	for _, h := range MetadataHeaders() {
		if h == name {
			return true
		}
	}
	return false
}
