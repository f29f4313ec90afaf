package gmail

import "time"

type MessageID string
type LabelID string

// System labels the engine mutates.
const (
	LabelInbox LabelID = "INBOX"
	LabelTrash LabelID = "TRASH"
)

// Message is the read-only view of a mailbox message that rules are evaluated against.
type Message struct {
	ID       MessageID
	ThreadID string
	Subject  string
	From     string
	To       string
	LabelIDs []LabelID
	Labels   []string // display names resolved from LabelIDs
	Snippet  string
	Body     string // decoded text body, truncated
	Date     time.Time
}

// ListPage is one page of message ids from a search.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `from:"alerts@example.com" before:1726440000`)
}

// Mutation is a single-message mailbox change.
type Mutation int

const (
	// MutationTrash moves the message to trash.
	MutationTrash Mutation = iota
	// MutationArchive removes the message from the inbox.
	MutationArchive
)

func (m Mutation) String() string {
	switch m {
	case MutationTrash:
		return "trash"
	case MutationArchive:
		return "archive"
	default:
		return "unknown"
	}
}
