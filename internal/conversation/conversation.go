// Package conversation normalizes hydrated Gmail threads into the header and
// label views the matching engine reads.
package conversation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/labels"
)

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// ExtractEmails returns the addresses found in an address-list header value,
// in order of appearance and without duplicates.
func ExtractEmails(value string) []string {
	found := emailPattern.FindAllString(value, -1)
	out := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, addr := range found {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Message is an immutable view of one message. Header names are lowercased;
// address headers hold the extracted addresses, other headers their raw text.
type Message struct {
	ID       gmail.MessageID
	ThreadID gmail.ThreadID
	Snippet  string

	names   []string
	headers map[string][]string
	labels  []gmail.LabelID
}

// NewMessage normalizes a raw message. When a header repeats, the last
// occurrence wins. Category labels are dropped.
func NewMessage(raw gmail.RawMessage) Message {
	m := Message{
		ID:       raw.ID,
		ThreadID: raw.ThreadID,
		Snippet:  raw.Snippet,
		headers:  make(map[string][]string, len(raw.Headers)),
	}
	for _, h := range raw.Headers {
		name := strings.ToLower(strings.TrimSpace(h.Name))
		if _, ok := m.headers[name]; !ok {
			m.names = append(m.names, name)
		}
		if gmail.IsAddressHeader(name) {
			m.headers[name] = ExtractEmails(h.Value)
			continue
		}
		m.headers[name] = []string{h.Value}
	}
	for _, id := range raw.LabelIDs {
		if gmail.IsCategory(id) {
			continue
		}
		m.labels = append(m.labels, id)
	}
	sort.Slice(m.labels, func(i, j int) bool { return m.labels[i] < m.labels[j] })
	return m
}

// Has reports whether the message carries the header.
func (m Message) Has(name string) bool {
	_, ok := m.headers[name]
	return ok
}

// Values returns the header's values: the addresses for address headers, a
// single string otherwise.
func (m Message) Values(name string) []string {
	return m.headers[name]
}

// Header returns the header as one string.
func (m Message) Header(name string) string {
	return strings.Join(m.headers[name], ", ")
}

// HeaderNames lists the headers in the order they first appeared.
func (m Message) HeaderNames() []string {
	return append([]string(nil), m.names...)
}

// Labels returns the visible label ids, sorted.
func (m Message) Labels() []gmail.LabelID {
	return append([]gmail.LabelID(nil), m.labels...)
}

func (m Message) HasLabel(id gmail.LabelID) bool {
	i := sort.Search(len(m.labels), func(i int) bool { return m.labels[i] >= id })
	return i < len(m.labels) && m.labels[i] == id
}

// IsUpToDate reports whether the message already has every label l adds and
// none that it removes.
func (m Message) IsUpToDate(l labels.Labels) bool {
	for _, id := range l.AddIDs() {
		if !m.HasLabel(id) {
			return false
		}
	}
	for _, id := range l.RemoveIDs() {
		if m.HasLabel(id) {
			return false
		}
	}
	return true
}

// Thread is an immutable, ordered set of messages sharing a thread id.
type Thread struct {
	ID        gmail.ThreadID
	HistoryID uint64
	Messages  []Message

	messageIDs []gmail.MessageID
	uniform    bool
}

// NewThread normalizes a hydrated thread.
func NewThread(raw gmail.RawThread) Thread {
	t := Thread{ID: raw.ID, HistoryID: raw.HistoryID}
	for _, rm := range raw.Messages {
		m := NewMessage(rm)
		if m.ThreadID == "" {
			m.ThreadID = raw.ID
		}
		t.Messages = append(t.Messages, m)
		t.messageIDs = append(t.messageIDs, m.ID)
	}
	t.uniform = true
	for i := 1; i < len(t.Messages); i++ {
		if !sameLabels(t.Messages[0].labels, t.Messages[i].labels) {
			t.uniform = false
			break
		}
	}
	return t
}

// MessageIDs is the flattened id list in thread order.
func (t Thread) MessageIDs() []gmail.MessageID {
	return append([]gmail.MessageID(nil), t.messageIDs...)
}

// LabelsAreUniform reports whether every message has the same label set.
func (t Thread) LabelsAreUniform() bool { return t.uniform }

// Subject returns the subject of the first message that has one.
func (t Thread) Subject() string {
	for _, m := range t.Messages {
		if m.Has("subject") {
			return m.Header("subject")
		}
	}
	return ""
}

// IsUpToDate reports whether applying l would change nothing on any message.
func (t Thread) IsUpToDate(l labels.Labels) bool {
	for _, m := range t.Messages {
		if !m.IsUpToDate(l) {
			return false
		}
	}
	return true
}

func sameLabels(a, b []gmail.LabelID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
