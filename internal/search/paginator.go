// Package search streams candidate messages for a rule's query.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/retry"
)

const (
	// DefaultMaxResults caps the candidates examined per rule per run.
	DefaultMaxResults = 500
	// DefaultPageSize is the number of ids requested per list call.
	DefaultPageSize = 100
)

// ErrAuth marks an authorization failure. It aborts the whole run.
var ErrAuth = errors.New("mailbox authorization failed")

// Options tunes pagination.
type Options struct {
	MaxResults int
	PageSize   int
	Retry      retry.Policy
}

// Paginator lists and fetches messages under rate limiting and backoff.
type Paginator struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Options Options
}

// NewPaginator constructs a Paginator, filling zero options with defaults.
func NewPaginator(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, opts Options) *Paginator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Paginator{Client: client, Limiter: limiter, Logger: logger, Options: opts}
}

// Candidate is one message yielded by a Cursor. Err is set when the message
// could not be fetched; the id is still reported so it can be counted.
type Candidate struct {
	ID      gmail.MessageID
	Message gmail.Message
	Err     error
}

// Cursor walks the results of a single query. It is not restartable.
type Cursor struct {
	p         *Paginator
	query     gmail.Query
	remaining int
	ids       []gmail.MessageID
	token     string
	started   bool
	done      bool
	pages     int
	cur       Candidate
	err       error
}

// Fetch returns a cursor over at most Options.MaxResults candidates for query.
func (p *Paginator) Fetch(query gmail.Query) *Cursor {
	return &Cursor{p: p, query: query, remaining: p.Options.MaxResults}
}

// Next advances to the next candidate. It returns false when the results are
// exhausted, the cap is reached, the context is canceled, or a page could not
// be listed; Err distinguishes these cases.
func (c *Cursor) Next(ctx context.Context) bool {
	for {
		if c.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			return c.fail(err)
		}
		if len(c.ids) > 0 {
			id := c.ids[0]
			c.ids = c.ids[1:]
			cand, fatal := c.fetch(ctx, id)
			if fatal != nil {
				return c.fail(fatal)
			}
			c.cur = cand
			return true
		}
		if (c.started && c.token == "") || c.remaining <= 0 {
			c.done = true
			return false
		}
		if err := c.loadPage(ctx); err != nil {
			return c.fail(err)
		}
	}
}

// Candidate returns the current candidate.
func (c *Cursor) Candidate() Candidate { return c.cur }

// Err returns the error that stopped the cursor, if any. A nil error after
// Next returns false means the results were exhausted or the cap was hit.
func (c *Cursor) Err() error { return c.err }

// Pages reports how many list pages were loaded.
func (c *Cursor) Pages() int { return c.pages }

func (c *Cursor) fail(err error) bool {
	c.err = err
	c.done = true
	return false
}

func (c *Cursor) loadPage(ctx context.Context) error {
	size := c.p.Options.PageSize
	if size > c.remaining {
		size = c.remaining
	}
	token := c.token
	page, err := retry.Do(ctx, c.p.Options.Retry, gmail.IsTransient, c.notify("list messages"),
		func(ctx context.Context) (gmail.ListPage, error) {
			if err := c.p.wait(ctx); err != nil {
				return gmail.ListPage{}, err
			}
			return c.p.Client.Search(ctx, c.query, token, size)
		})
	if err != nil {
		if gmail.IsAuth(err) {
			return fmt.Errorf("%w: list messages: %w", ErrAuth, err)
		}
		return fmt.Errorf("list messages page %d: %w", c.pages+1, err)
	}
	c.started = true
	c.pages++
	c.token = page.NextPageToken
	ids := page.IDs
	if len(ids) > c.remaining {
		ids = ids[:c.remaining]
	}
	c.remaining -= len(ids)
	c.ids = ids
	if len(ids) == 0 && c.token != "" {
		c.p.Logger.DebugContext(ctx, "empty page with continuation", slog.Int("page", c.pages))
	}
	return nil
}

// fetch loads one message. The second return is non-nil only for failures
// that must stop the cursor.
func (c *Cursor) fetch(ctx context.Context, id gmail.MessageID) (Candidate, error) {
	msg, err := retry.Do(ctx, c.p.Options.Retry, gmail.IsTransient, c.notify("get message"),
		func(ctx context.Context) (gmail.Message, error) {
			if err := c.p.wait(ctx); err != nil {
				return gmail.Message{}, err
			}
			return c.p.Client.GetMessage(ctx, id)
		})
	switch {
	case err == nil:
		return Candidate{ID: id, Message: msg}, nil
	case gmail.IsAuth(err):
		return Candidate{}, fmt.Errorf("%w: get message %s: %w", ErrAuth, id, err)
	case ctx.Err() != nil:
		return Candidate{}, ctx.Err()
	default:
		return Candidate{ID: id, Err: fmt.Errorf("get message %s: %w", id, err)}, nil
	}
}

func (c *Cursor) notify(op string) retry.Notify {
	return func(err error, wait time.Duration) {
		c.p.Logger.Warn("transient provider error, backing off",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Paginator) wait(ctx context.Context) error {
	if p.Limiter == nil {
		return nil
	}
	if err := p.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
