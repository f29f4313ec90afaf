// Package runtime wires the process to the outside world: the Gmail API,
// credentials, logging and tracing.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

const me = "me"

// googleClient adapts *gmail.Service to gc.Client.
type googleClient struct {
	svc *gmail.Service

	mu         sync.Mutex
	labelNames map[gc.LabelID]string
}

// NewGoogleAPIClient wraps an authenticated Gmail service.
func NewGoogleAPIClient(svc *gmail.Service) gc.Client { return &googleClient{svc: svc} }

func (g *googleClient) Search(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(me).MaxResults(int64(pageSize))
	if q.Raw != "" {
		call = call.Q(q.Raw)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, wrapErr("list messages", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	names, err := g.labels(ctx)
	if err != nil {
		return gc.Message{}, err
	}
	msg, err := g.svc.Users.Messages.Get(me, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gc.Message{}, wrapErr("get message "+string(id), err)
	}
	return messageFromAPI(msg, names), nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, m gc.Mutation) error {
	var err error
	switch m {
	case gc.MutationTrash:
		_, err = g.svc.Users.Messages.Trash(me, string(id)).Context(ctx).Do()
	case gc.MutationArchive:
		req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{string(gc.LabelInbox)}}
		_, err = g.svc.Users.Messages.Modify(me, string(id), req).Context(ctx).Do()
	default:
		return fmt.Errorf("unsupported mutation %v", m)
	}
	if err != nil {
		return wrapErr(m.String()+" message "+string(id), err)
	}
	return nil
}

func (g *googleClient) ListLabels(ctx context.Context) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	lr, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, nil, wrapErr("list labels", err)
	}
	byName := map[string]gc.LabelID{}
	byID := map[gc.LabelID]string{}
	for _, l := range lr.Labels {
		byName[l.Name] = gc.LabelID(l.Id)
		byID[gc.LabelID(l.Id)] = l.Name
	}
	return byName, byID, nil
}

func (g *googleClient) Profile(ctx context.Context) (string, error) {
	p, err := g.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("get profile", err)
	}
	return p.EmailAddress, nil
}

// labels loads the label id to name map once per client.
func (g *googleClient) labels(ctx context.Context) (map[gc.LabelID]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.labelNames != nil {
		return g.labelNames, nil
	}
	_, byID, err := g.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	g.labelNames = byID
	return byID, nil
}

// wrapErr normalizes provider failures into *gc.APIError so callers can
// classify them. Token refresh failures count as authorization errors.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr := &gc.APIError{Op: op, Code: gerr.Code, Err: err}
		if len(gerr.Errors) > 0 {
			apiErr.Reason = gerr.Errors[0].Reason
		}
		return apiErr
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		code := 401
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			code = rerr.Response.StatusCode
		}
		return &gc.APIError{Op: op, Code: code, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &gc.APIError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
