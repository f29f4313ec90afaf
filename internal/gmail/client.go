package gmail

import "context"

//go:generate mockgen -destination=mock_gmail/client.go -package=mock_gmail . Client

// Client is the narrow mailbox surface required by inboxrules.
type Client interface {
	Search(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID) (Message, error)
	Modify(ctx context.Context, id MessageID, m Mutation) error
	ListLabels(ctx context.Context) (map[string]LabelID, map[LabelID]string, error)
	Profile(ctx context.Context) (string, error)
}
