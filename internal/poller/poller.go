// Package poller runs the fetch-filter-dispatch pass over unread mail.
package poller

import (
	"context"
	"log/slog"

	"github.com/moltbot/moltbot-email/internal/config"
	"github.com/moltbot/moltbot-email/internal/mail"
	"github.com/moltbot/moltbot-email/internal/policy"
	"github.com/moltbot/moltbot-email/internal/routing"
	"github.com/moltbot/moltbot-email/internal/subject"
)

// Engine processes one account's unread mail. It owns nothing between
// cycles; the transport and router are injected at construction and the
// account config is read as a snapshot each cycle.
type Engine struct {
	accountID string
	account   *config.Account
	transport mail.Transport
	router    routing.Router
	logger    *slog.Logger
}

// New creates a poll engine for one account.
func New(accountID string, account *config.Account, transport mail.Transport, router routing.Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		accountID: accountID,
		account:   account,
		transport: transport,
		router:    router,
		logger:    logger.With("account", accountID),
	}
}

// RunCycle fetches a bounded page of unread messages and processes
// them in fetch order. A fetch failure aborts only this cycle; the
// next tick retries independently. Per-message failures never abort
// the remaining messages.
func (e *Engine) RunCycle(ctx context.Context) error {
	messages, err := e.transport.FetchUnread(ctx, e.account.MaxFetch)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		e.processMessage(ctx, msg)
	}
	return nil
}

func (e *Engine) processMessage(ctx context.Context, msg mail.Message) {
	sender := mail.ExtractAddress(msg.From)

	if !policy.SenderAllowed(msg.From, e.account.AllowFrom) {
		e.logger.Info("ignoring email from non-allowed sender", "sender", sender)
		// Marking it read keeps the next tick from seeing it again.
		if err := e.transport.MarkRead(ctx, msg.ID); err != nil {
			e.logger.Warn("failed to mark rejected message read", "id", msg.ID, "error", err)
		}
		return
	}

	e.logger.Info("new email", "sender", sender, "subject", msg.Subject)

	// Mark read before dispatching. A crash past this point must not
	// cause the message to be fetched and processed twice; the cost is
	// that a dispatch failure from here on drops the message.
	if err := e.transport.MarkRead(ctx, msg.ID); err != nil {
		e.logger.Error("failed to mark message read, skipping", "id", msg.ID, "error", err)
		return
	}

	route, err := e.router.ResolveRoute(ctx, e.accountID, sender)
	if err != nil {
		e.logger.Error("failed to resolve route, message dropped", "id", msg.ID, "error", err)
		return
	}

	in := routing.Inbound{
		AccountID:   e.accountID,
		Sender:      sender,
		SenderLabel: sender,
		ThreadID:    msg.ThreadID,
		MessageID:   msg.ID,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Route:       route,
	}

	deliver := func(reply routing.Reply) error {
		subj := subject.Synthesize(reply.Text, e.account.SubjectPrefix)
		id, err := e.transport.Send(ctx, mail.Outbound{
			To:       sender,
			Subject:  subj,
			Body:     reply.Text,
			ThreadID: msg.ThreadID,
		})
		if err != nil {
			e.logger.Error("failed to send reply", "to", sender, "error", err)
			return err
		}
		e.logger.Info("sent reply", "to", sender, "subject", subj, "id", id)
		return nil
	}

	onError := func(err error) {
		e.logger.Warn("delivery error", "session", route.SessionKey, "error", err)
	}

	if err := e.router.Dispatch(ctx, in, deliver, onError); err != nil {
		// The message was consumed when it was marked read; dispatch
		// failures are logged, not retried.
		e.logger.Error("dispatch failed, message dropped", "id", msg.ID, "error", err)
	}
}
