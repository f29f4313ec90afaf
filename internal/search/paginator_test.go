package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/gmail/gmailtest"
	"github.com/joshsymonds/inboxrules/internal/retry"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() retry.Policy {
	return retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxRetries: 3}
}

func mailboxWith(n int) *gmailtest.Mailbox {
	mb := gmailtest.New()
	for i := 0; i < n; i++ {
		mb.Add(gmail.Message{ID: gmail.MessageID(fmt.Sprintf("m%04d", i)), Subject: fmt.Sprintf("msg %d", i)})
	}
	return mb
}

func drain(t *testing.T, cur *Cursor) []Candidate {
	t.Helper()
	var out []Candidate
	for cur.Next(context.Background()) {
		out = append(out, cur.Candidate())
	}
	return out
}

func TestFetchWalksAllPages(t *testing.T) {
	mb := mailboxWith(250)
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{Raw: "from:alerts@example.com"})
	got := drain(t, cur)
	require.NoError(t, cur.Err())
	assert.Len(t, got, 250)
	assert.Equal(t, 3, cur.Pages())
	assert.Equal(t, []int{100, 100, 100}, mb.PageSizes)
	assert.Equal(t, "from:alerts@example.com", mb.Queries[0])
}

func TestFetchRespectsCap(t *testing.T) {
	mb := mailboxWith(1000)
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	got := drain(t, cur)
	require.NoError(t, cur.Err())
	assert.Len(t, got, DefaultMaxResults)
	assert.Equal(t, 5, mb.SearchCalls)
	assert.Equal(t, DefaultMaxResults, mb.GetCalls)
}

func TestFetchShrinksLastPageToCap(t *testing.T) {
	mb := mailboxWith(50)
	p := NewPaginator(mb, nil, slogDiscard(), Options{MaxResults: 30, PageSize: 20, Retry: fastRetry()})

	got := drain(t, p.Fetch(gmail.Query{}))
	assert.Len(t, got, 30)
	assert.Equal(t, []int{20, 10}, mb.PageSizes)
}

func TestFetchRetriesTransientListErrors(t *testing.T) {
	mb := mailboxWith(3)
	mb.SearchErrs = []error{
		&gmail.APIError{Op: "list", Code: 429},
		&gmail.APIError{Op: "list", Code: 503},
	}
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	got := drain(t, cur)
	require.NoError(t, cur.Err())
	assert.Len(t, got, 3)
	assert.Equal(t, 3, mb.SearchCalls)
}

func TestFetchPageFailureAfterRetries(t *testing.T) {
	mb := mailboxWith(3)
	for i := 0; i < 10; i++ {
		mb.SearchErrs = append(mb.SearchErrs, &gmail.APIError{Op: "list", Code: 500})
	}
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	assert.Empty(t, drain(t, cur))
	require.Error(t, cur.Err())
	assert.False(t, errors.Is(cur.Err(), ErrAuth))
	assert.Equal(t, 4, mb.SearchCalls)
}

func TestFetchAuthErrorIsFatal(t *testing.T) {
	mb := mailboxWith(3)
	mb.SearchErrs = []error{&gmail.APIError{Op: "list", Code: 401}}
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	assert.Empty(t, drain(t, cur))
	require.ErrorIs(t, cur.Err(), ErrAuth)
	assert.Equal(t, 1, mb.SearchCalls, "auth errors are not retried")
}

func TestFetchMessageLevelFailure(t *testing.T) {
	mb := mailboxWith(3)
	mb.GetErrs["m0001"] = []error{&gmail.APIError{Op: "get", Code: 404}}
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	got := drain(t, cur)
	require.NoError(t, cur.Err())
	require.Len(t, got, 3)
	assert.NoError(t, got[0].Err)
	assert.Error(t, got[1].Err)
	assert.Equal(t, gmail.MessageID("m0001"), got[1].ID)
	assert.NoError(t, got[2].Err)
}

func TestFetchMessageAuthErrorStopsCursor(t *testing.T) {
	mb := mailboxWith(3)
	mb.GetErrs["m0001"] = []error{&gmail.APIError{Op: "get", Code: 403}}
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	cur := p.Fetch(gmail.Query{})
	got := drain(t, cur)
	assert.Len(t, got, 1)
	require.ErrorIs(t, cur.Err(), ErrAuth)
}

func TestFetchStopsOnCancellation(t *testing.T) {
	mb := mailboxWith(10)
	p := NewPaginator(mb, nil, slogDiscard(), Options{Retry: fastRetry()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cur := p.Fetch(gmail.Query{})
	seen := 0
	for cur.Next(ctx) {
		seen++
		if seen == 2 {
			cancel()
		}
	}
	assert.Equal(t, 2, seen)
	require.ErrorIs(t, cur.Err(), context.Canceled)
}

func TestFetchEmptyMailbox(t *testing.T) {
	mb := gmailtest.New()
	p := NewPaginator(mb, nil, slogDiscard(), Options{})
	cur := p.Fetch(gmail.Query{})
	assert.False(t, cur.Next(context.Background()))
	assert.NoError(t, cur.Err())
	assert.Equal(t, 1, cur.Pages())
}
