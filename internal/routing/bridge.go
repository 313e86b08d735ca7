package routing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// Bridge routes messages through the moltbot host CLI. Route decisions
// come from the host; session keys are minted here and persisted so a
// sender's mail keeps landing in the same agent conversation.
type Bridge struct {
	cliPath string
	scope   string // session scope for email peers, "dm" or "group"
	store   *Store
	logger  *slog.Logger
}

// NewBridge creates a host bridge. scope decides whether a sender's
// mail is treated as a direct conversation or a shared one.
func NewBridge(cliPath, scope string, store *Store, logger *slog.Logger) *Bridge {
	if cliPath == "" {
		cliPath = "moltbot"
	}
	if scope == "" {
		scope = "dm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cliPath: cliPath, scope: scope, store: store, logger: logger}
}

// IsAvailable checks if the host CLI is on PATH.
func (b *Bridge) IsAvailable() bool {
	_, err := exec.LookPath(b.cliPath)
	return err == nil
}

// ResolveRoute returns the sender's existing session or asks the host
// to route a new one.
func (b *Bridge) ResolveRoute(ctx context.Context, accountID, sender string) (Route, error) {
	if sess, err := b.store.GetSession(accountID, sender, b.scope); err != nil {
		return Route{}, fmt.Errorf("failed to look up session: %w", err)
	} else if sess != nil {
		if err := b.store.Touch(sess.SessionKey); err != nil {
			b.logger.Warn("failed to touch session", "session", sess.SessionKey, "error", err)
		}
		return Route{SessionKey: sess.SessionKey, AgentID: sess.AgentID}, nil
	}

	out, err := b.run(ctx, nil,
		"route",
		"--channel", "email",
		"--account", accountID,
		"--peer", sender,
		"--scope", b.scope,
		"--json",
	)
	if err != nil {
		return Route{}, err
	}

	var resolved struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(out, &resolved); err != nil {
		return Route{}, fmt.Errorf("failed to parse route: %w", err)
	}

	route := Route{
		SessionKey: uuid.NewString(),
		AgentID:    resolved.AgentID,
	}
	err = b.store.PutSession(&Session{
		AccountID:  accountID,
		Peer:       sender,
		Scope:      b.scope,
		SessionKey: route.SessionKey,
		AgentID:    route.AgentID,
	})
	if err != nil {
		return Route{}, fmt.Errorf("failed to persist session: %w", err)
	}

	b.logger.Info("routed new session",
		"account", accountID,
		"peer", sender,
		"session", route.SessionKey,
		"agent", route.AgentID,
	)
	return route, nil
}

// Dispatch streams the message through the host CLI. The agent's reply
// arrives as JSON lines on stdout; each line is fed to deliver.
func (b *Bridge) Dispatch(ctx context.Context, in Inbound, deliver DeliverFunc, onError func(error)) error {
	if err := b.store.LinkThread(in.ThreadID, in.Route.SessionKey); err != nil {
		b.logger.Warn("failed to link thread", "thread", in.ThreadID, "error", err)
	}

	cmd := exec.CommandContext(ctx, b.cliPath,
		"dispatch",
		"--channel", "email",
		"--account", in.AccountID,
		"--session", in.Route.SessionKey,
		"--agent", in.Route.AgentID,
		"--sender", in.Sender,
		"--reply-to", in.ThreadID,
		"--json",
	)
	cmd.Stdin = strings.NewReader(in.Body)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open dispatch pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start dispatch: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var reply Reply
		if err := json.Unmarshal([]byte(line), &reply); err != nil {
			b.logger.Warn("skipping malformed reply line", "error", err)
			continue
		}
		if reply.Text == "" {
			continue
		}

		if err := deliver(reply); err != nil {
			// Delivery failures belong to the collaborator's error
			// path; the dispatch keeps draining remaining replies.
			if onError != nil {
				onError(err)
			}
		}
	}
	if err := scanner.Err(); err != nil && onError != nil {
		onError(err)
	}

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("dispatch failed: %s", msg)
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}
	return nil
}

// run executes a host CLI command and returns its stdout.
func (b *Bridge) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.cliPath, args...)
	if stdin != nil {
		cmd.Stdin = strings.NewReader(string(stdin))
	}
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s %s failed: %s", b.cliPath, strings.Join(args, " "), string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s %s failed: %w", b.cliPath, strings.Join(args, " "), err)
	}
	return out, nil
}
