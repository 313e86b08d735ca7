// Package channel exposes the email channel to the Moltbot host:
// per-account lifecycle controllers plus the probe/start/stop/send
// plugin surface.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moltbot/moltbot-email/internal/config"
	"github.com/moltbot/moltbot-email/internal/mail"
	"github.com/moltbot/moltbot-email/internal/poller"
	"github.com/moltbot/moltbot-email/internal/policy"
	"github.com/moltbot/moltbot-email/internal/routing"
	"github.com/moltbot/moltbot-email/internal/subject"
)

// ID is the channel identity registered with the host.
const ID = "email"

// Status is the lifecycle state of one account's poller.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ConfigError is a probe-time configuration problem. When the mailbox
// only lacks authorization, AuthURL carries the consent URL to visit.
type ConfigError struct {
	Reason  string
	AuthURL string
}

func (e *ConfigError) Error() string {
	if e.AuthURL != "" {
		return fmt.Sprintf("%s. Please authorize: %s", e.Reason, e.AuthURL)
	}
	return e.Reason
}

// TransportFactory builds the mailbox transport for an account.
// Injected so tests can substitute a fake.
type TransportFactory func(ctx context.Context, account *config.Account, logger *slog.Logger) (mail.Transport, error)

// DefaultTransportFactory builds the transport named by the account's
// config: Gmail by default, IMAP when requested.
func DefaultTransportFactory(ctx context.Context, account *config.Account, logger *slog.Logger) (mail.Transport, error) {
	switch account.Transport {
	case "", "gmail":
		return mail.NewGmailTransport(ctx, account.Credentials, logger)
	case "imap":
		if account.IMAP == nil {
			return nil, fmt.Errorf("imap transport requires imap config")
		}
		return mail.NewIMAPTransport(account.IMAP, account.SMTP, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", account.Transport)
	}
}

// Controller owns one account's live poller: the transport client and
// the poll timer. At most one of each exists per controller; Start
// replaces any prior handle, so a double start cannot leak a timer.
type Controller struct {
	accountID string
	account   *config.Account
	router    routing.Router
	factory   TransportFactory
	logger    *slog.Logger

	mu        sync.Mutex
	status    Status
	lastErr   error
	transport mail.Transport
	stopCh    chan struct{}
	done      chan struct{}
}

// NewController creates a stopped controller for one account.
func NewController(accountID string, account *config.Account, router routing.Router, factory TransportFactory, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = DefaultTransportFactory
	}
	return &Controller{
		accountID: accountID,
		account:   account,
		router:    router,
		factory:   factory,
		logger:    logger.With("account", accountID),
		status:    StatusStopped,
	}
}

// Probe reports whether the account is startable without touching the
// network. A missing refresh token yields a ConfigError carrying the
// authorization URL.
func Probe(account *config.Account) error {
	if !account.Enabled {
		return &ConfigError{Reason: "email channel is disabled"}
	}

	switch account.Transport {
	case "", "gmail":
		creds := account.Credentials
		if creds == nil || creds.ClientID == "" || creds.ClientSecret == "" {
			return &ConfigError{Reason: "missing Gmail OAuth2 credentials"}
		}
		if creds.RefreshToken == "" {
			return &ConfigError{
				Reason:  "missing refresh token",
				AuthURL: mail.AuthURL(creds),
			}
		}
	case "imap":
		if account.IMAP == nil || account.IMAP.Server == "" {
			return &ConfigError{Reason: "missing IMAP server configuration"}
		}
	default:
		return &ConfigError{Reason: fmt.Sprintf("unsupported transport: %s", account.Transport)}
	}
	return nil
}

// Start brings the account's poller up: it builds the transport, runs
// one cycle immediately, then schedules recurring cycles. A controller
// that is already running is stopped first.
func (c *Controller) Start(ctx context.Context) error {
	c.Stop()

	c.mu.Lock()
	c.status = StatusStarting
	c.lastErr = nil
	c.mu.Unlock()

	if err := Probe(c.account); err != nil {
		c.fail(err)
		return err
	}

	transport, err := c.factory(ctx, c.account, c.logger)
	if err != nil {
		err = fmt.Errorf("failed to create transport: %w", err)
		c.fail(err)
		return err
	}

	engine := poller.New(c.accountID, c.account, transport, c.router, c.logger)

	// Initial poll. A transport error here is routine, not fatal: the
	// recurring timer retries it.
	if err := engine.RunCycle(ctx); err != nil {
		c.logger.Warn("initial poll cycle failed", "error", err)
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.transport = transport
	c.stopCh = stopCh
	c.done = done
	c.status = StatusRunning
	c.mu.Unlock()

	go c.loop(ctx, engine, stopCh, done)

	c.logger.Info("polling started", "interval", c.account.PollInterval())
	return nil
}

// loop runs cycles on a fixed ticker. Cycles are serialized: a tick
// that fires while a cycle is still running is simply dropped by the
// ticker, so two cycles can never observe the same unread message.
func (c *Controller) loop(ctx context.Context, engine *poller.Engine, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.account.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.RunCycle(ctx); err != nil {
				c.logger.Warn("poll cycle failed", "error", err)
			}
		}
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.status = StatusError
	c.lastErr = err
	c.mu.Unlock()
}

// Stop cancels the recurring timer and discards the transport. An
// in-flight cycle is allowed to finish. Calling Stop on a stopped
// controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopCh == nil {
		if c.status != StatusError {
			c.status = StatusStopped
		}
		c.mu.Unlock()
		return
	}
	c.status = StatusStopping
	stopCh := c.stopCh
	done := c.done
	transport := c.transport
	c.stopCh = nil
	c.done = nil
	c.transport = nil
	c.mu.Unlock()

	close(stopCh)
	<-done

	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Warn("failed to close transport", "error", err)
		}
	}

	c.mu.Lock()
	c.status = StatusStopped
	c.mu.Unlock()

	c.logger.Info("email channel stopped")
}

// Status returns the controller state and the last start error, if any.
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Transport returns the live transport, or nil when stopped.
func (c *Controller) Transport() mail.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Plugin is the host-facing channel surface: one controller per
// configured account behind probe/start/stop/send hooks.
type Plugin struct {
	cfg     *config.Config
	router  routing.Router
	factory TransportFactory
	logger  *slog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewPlugin creates the channel plugin. The router and logger are
// injected; there is no global runtime state.
func NewPlugin(cfg *config.Config, router routing.Router, factory TransportFactory, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		cfg:         cfg,
		router:      router,
		factory:     factory,
		logger:      logger,
		controllers: map[string]*Controller{},
	}
}

// ID returns the channel identity.
func (p *Plugin) ID() string { return ID }

func (p *Plugin) account(accountID string) (*config.Account, error) {
	acct, ok := p.cfg.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account: %s", accountID)
	}
	return acct, nil
}

func (p *Plugin) controller(accountID string) (*Controller, error) {
	acct, err := p.account(accountID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ctrl, ok := p.controllers[accountID]
	if !ok {
		ctrl = NewController(accountID, acct, p.router, p.factory, p.logger)
		p.controllers[accountID] = ctrl
	}
	return ctrl, nil
}

// Probe checks one account's configuration.
func (p *Plugin) Probe(accountID string) error {
	acct, err := p.account(accountID)
	if err != nil {
		return err
	}
	return Probe(acct)
}

// Start starts one account's poller.
func (p *Plugin) Start(ctx context.Context, accountID string) error {
	ctrl, err := p.controller(accountID)
	if err != nil {
		return err
	}
	return ctrl.Start(ctx)
}

// StartAll starts every enabled, startable account. Accounts that fail
// to probe are skipped with a log line; a configuration problem on one
// account never blocks the others.
func (p *Plugin) StartAll(ctx context.Context) error {
	started := 0
	for accountID, acct := range p.cfg.Accounts {
		if err := Probe(acct); err != nil {
			p.logger.Warn("skipping account", "account", accountID, "reason", err)
			continue
		}
		if err := p.Start(ctx, accountID); err != nil {
			p.logger.Error("failed to start account", "account", accountID, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no accounts started")
	}
	return nil
}

// Stop stops one account's poller. Idempotent.
func (p *Plugin) Stop(accountID string) {
	p.mu.Lock()
	ctrl := p.controllers[accountID]
	p.mu.Unlock()
	if ctrl != nil {
		ctrl.Stop()
	}
}

// StopAll stops every running poller.
func (p *Plugin) StopAll() {
	p.mu.Lock()
	ctrls := make([]*Controller, 0, len(p.controllers))
	for _, ctrl := range p.controllers {
		ctrls = append(ctrls, ctrl)
	}
	p.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Stop()
	}
}

// Send sends an outbound email on behalf of the host. The recipient
// falls back to the account's default_recipient and must pass the
// allow_to policy. The account must be started.
func (p *Plugin) Send(ctx context.Context, accountID, to, text string) (string, error) {
	acct, err := p.account(accountID)
	if err != nil {
		return "", err
	}

	recipient := to
	if recipient == "" {
		recipient = acct.DefaultRecipient
	}
	if recipient == "" {
		return "", fmt.Errorf("no recipient specified")
	}

	if !policy.RecipientAllowed(recipient, acct.AllowTo) {
		return "", fmt.Errorf("recipient %s not in allow_to list", recipient)
	}

	ctrl, err := p.controller(accountID)
	if err != nil {
		return "", err
	}
	transport := ctrl.Transport()
	if transport == nil {
		return "", fmt.Errorf("email channel not started")
	}

	subj := subject.Synthesize(text, acct.SubjectPrefix)
	id, err := transport.Send(ctx, mail.Outbound{
		To:      recipient,
		Subject: subj,
		Body:    text,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("sent email", "account", accountID, "to", recipient, "id", id)
	return id, nil
}

// Statuses reports the lifecycle state of every known account.
func (p *Plugin) Statuses() map[string]Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := map[string]Status{}
	for accountID := range p.cfg.Accounts {
		status := StatusStopped
		if ctrl, ok := p.controllers[accountID]; ok {
			status, _ = ctrl.Status()
		}
		out[accountID] = status
	}
	return out
}
