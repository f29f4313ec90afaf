// Package executor applies rule actions to individual messages.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/retry"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Result is the outcome of applying one action to one message.
type Result struct {
	MessageID gmail.MessageID
	Action    rules.Action
	Applied   bool
	Simulated bool
	Err       error
}

// Succeeded reports whether the action was applied or simulated without error.
func (r Result) Succeeded() bool { return r.Err == nil }

// Fatal reports whether the failure invalidates the whole run. The message was
// already listed and fetched with the same credentials, so a 403 that does not
// name a scope or credential problem only concerns this message.
func (r Result) Fatal() bool {
	return gmail.IsAuth(r.Err) && !gmail.IsResourceForbidden(r.Err)
}

// Executor issues one mutating call per message, or none in dry-run mode.
type Executor struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Retry   retry.Policy
}

// New constructs an Executor. A zero policy uses retry.DefaultPolicy.
func New(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, policy retry.Policy) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	return &Executor{Client: client, Limiter: limiter, Logger: logger, Retry: policy}
}

// Apply performs rule's action on msg. In dry-run mode nothing is sent to the
// mailbox and the result is marked simulated. Failures are returned in the
// result, never as a panic or separate error.
func (e *Executor) Apply(ctx context.Context, rule rules.Rule, msg gmail.Message, dryRun bool) Result {
	res := Result{MessageID: msg.ID, Action: rule.Action}
	if dryRun {
		res.Simulated = true
		return res
	}
	mut := rule.Action.Mutation()
	err := retry.Run(ctx, e.Retry, gmail.IsTransient,
		func(err error, wait time.Duration) {
			e.Logger.Warn("transient error applying action, backing off",
				slog.String("message_id", string(msg.ID)),
				slog.String("action", string(rule.Action)),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
		func(ctx context.Context) error {
			if e.Limiter != nil {
				if err := e.Limiter.Wait(ctx); err != nil {
					return fmt.Errorf("rate limit: %w", err)
				}
			}
			return e.Client.Modify(ctx, msg.ID, mut)
		})
	if err != nil {
		res.Err = fmt.Errorf("%s message %s: %w", mut, msg.ID, err)
		return res
	}
	res.Applied = true
	return res
}
