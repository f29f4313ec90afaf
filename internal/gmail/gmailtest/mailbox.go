// Package gmailtest provides an in-memory gmail.Client for tests.
package gmailtest

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// Modification records one successful Modify call.
type Modification struct {
	ID       gmail.MessageID
	Mutation gmail.Mutation
}

// Mailbox is a fake mailbox. Search ignores the query and lists every
// message in insertion order, which is always a superset of what a rule can
// match. Trashed messages stay listed so page offsets are stable. Queued
// errors are returned before the call succeeds, one per call.
type Mailbox struct {
	mu sync.Mutex

	Email      string
	messages   map[gmail.MessageID]gmail.Message
	order      []gmail.MessageID
	labelNames map[gmail.LabelID]string

	SearchErrs []error
	GetErrs    map[gmail.MessageID][]error
	ModifyErrs map[gmail.MessageID][]error
	// DuplicateIDs repeats every listed id within its page.
	DuplicateIDs bool

	Queries       []string
	PageSizes     []int
	SearchCalls   int
	GetCalls      int
	ModifyCalls   int
	Modifications []Modification
}

// New returns a mailbox holding msgs.
func New(msgs ...gmail.Message) *Mailbox {
	m := &Mailbox{
		Email:      "me@example.com",
		messages:   map[gmail.MessageID]gmail.Message{},
		labelNames: map[gmail.LabelID]string{gmail.LabelInbox: "INBOX", gmail.LabelTrash: "TRASH"},
		GetErrs:    map[gmail.MessageID][]error{},
		ModifyErrs: map[gmail.MessageID][]error{},
	}
	for _, msg := range msgs {
		m.Add(msg)
	}
	return m
}

// Add stores msg, replacing any message with the same id.
func (m *Mailbox) Add(msg gmail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; !ok {
		m.order = append(m.order, msg.ID)
	}
	m.messages[msg.ID] = msg
}

// Message returns the current state of a stored message.
func (m *Mailbox) Message(id gmail.MessageID) (gmail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}

// SetLabel registers a display name for a label id.
func (m *Mailbox) SetLabel(id gmail.LabelID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labelNames[id] = name
}

func (m *Mailbox) Search(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return gmail.ListPage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	m.Queries = append(m.Queries, q.Raw)
	m.PageSizes = append(m.PageSizes, pageSize)
	if len(m.SearchErrs) > 0 {
		err := m.SearchErrs[0]
		m.SearchErrs = m.SearchErrs[1:]
		return gmail.ListPage{}, err
	}
	listed := m.order
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return gmail.ListPage{}, &gmail.APIError{Op: "list", Code: 400, Err: err}
		}
		offset = n
	}
	if offset > len(listed) {
		offset = len(listed)
	}
	end := offset + pageSize
	if end > len(listed) {
		end = len(listed)
	}
	page := gmail.ListPage{}
	for _, id := range listed[offset:end] {
		page.IDs = append(page.IDs, id)
		if m.DuplicateIDs {
			page.IDs = append(page.IDs, id)
		}
	}
	if end < len(listed) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *Mailbox) GetMessage(ctx context.Context, id gmail.MessageID) (gmail.Message, error) {
	if err := ctx.Err(); err != nil {
		return gmail.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if errs := m.GetErrs[id]; len(errs) > 0 {
		m.GetErrs[id] = errs[1:]
		return gmail.Message{}, errs[0]
	}
	msg, ok := m.messages[id]
	if !ok {
		return gmail.Message{}, &gmail.APIError{Op: "get", Code: 404}
	}
	if len(msg.Labels) > 0 {
		return msg, nil
	}
	for _, lid := range msg.LabelIDs {
		if name, ok := m.labelNames[lid]; ok {
			msg.Labels = append(msg.Labels, name)
		}
	}
	return msg, nil
}

func (m *Mailbox) Modify(ctx context.Context, id gmail.MessageID, mut gmail.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls++
	if errs := m.ModifyErrs[id]; len(errs) > 0 {
		m.ModifyErrs[id] = errs[1:]
		return errs[0]
	}
	msg, ok := m.messages[id]
	if !ok {
		return &gmail.APIError{Op: "modify", Code: 404}
	}
	labels := slices.DeleteFunc(slices.Clone(msg.LabelIDs), func(l gmail.LabelID) bool { return l == gmail.LabelInbox })
	if mut == gmail.MutationTrash {
		labels = append(labels, gmail.LabelTrash)
	}
	msg.LabelIDs = labels
	m.messages[id] = msg
	m.Modifications = append(m.Modifications, Modification{ID: id, Mutation: mut})
	return nil
}

func (m *Mailbox) ListLabels(ctx context.Context) (map[string]gmail.LabelID, map[gmail.LabelID]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := make(map[string]gmail.LabelID, len(m.labelNames))
	byID := make(map[gmail.LabelID]string, len(m.labelNames))
	for id, name := range m.labelNames {
		byName[name] = id
		byID[id] = name
	}
	return byName, byID, nil
}

func (m *Mailbox) Profile(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Email, nil
}

var _ gmail.Client = (*Mailbox)(nil)
