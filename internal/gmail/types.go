package gmail

import "strings"

type (
	ThreadID  string
	MessageID string
	LabelID   string
)

// System label ids. Their ids double as their names.
const (
	LabelInbox     LabelID = "INBOX"
	LabelUnread    LabelID = "UNREAD"
	LabelStarred   LabelID = "STARRED"
	LabelTrash     LabelID = "TRASH"
	LabelSpam      LabelID = "SPAM"
	LabelImportant LabelID = "IMPORTANT"
	LabelChat      LabelID = "CHAT"
)

const categoryPrefix = "CATEGORY_"

// IsCategory reports whether id belongs to Gmail's system-managed category
// namespace (CATEGORY_SOCIAL, CATEGORY_PROMOTIONS, ...).
func IsCategory(id LabelID) bool {
	return strings.HasPrefix(string(id), categoryPrefix)
}

type Header struct {
	Name  string
	Value string
}

type Label struct {
	ID   LabelID
	Name string
	Type string // "system" or "user"
}

// RawMessage is a message as returned by a metadata-format thread fetch.
type RawMessage struct {
	ID           MessageID
	ThreadID     ThreadID
	LabelIDs     []LabelID
	Headers      []Header
	Snippet      string
	InternalDate int64
}

type RawThread struct {
	ID        ThreadID
	HistoryID uint64
	Snippet   string
	Messages  []RawMessage
}

type ThreadPage struct {
	IDs           []ThreadID
	NextPageToken string
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // Gmail search query, passed through untouched (e.g. `in:inbox -is:starred`)
}

var addressHeaders = map[string]struct{}{
	"from":          {},
	"to":            {},
	"cc":            {},
	"bcc":           {},
	"reply-to":      {},
	"sender":        {},
	"delivered-to":  {},
	"resent-from":   {},
	"resent-to":     {},
	"resent-cc":     {},
	"resent-bcc":    {},
	"resent-sender": {},
}

// IsAddressHeader reports whether the (lowercased) header carries a list of
// email addresses rather than free text.
func IsAddressHeader(name string) bool {
	_, ok := addressHeaders[name]
	return ok
}
