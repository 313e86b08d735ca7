package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/moltbot/moltbot-email/internal/config"
)

var gmailScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
}

// GmailTransport talks to the Gmail API with an OAuth2 refresh token.
type GmailTransport struct {
	service *gmail.Service
	logger  *slog.Logger
}

func oauthConfig(creds *config.Credentials) *oauth2.Config {
	redirect := creds.RedirectURI
	if redirect == "" {
		redirect = "http://localhost"
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       gmailScopes,
		Endpoint:     google.Endpoint,
	}
}

// AuthURL returns the consent URL a user must visit to authorize the
// mailbox. Offline access is requested so a refresh token is issued.
func AuthURL(creds *config.Credentials) string {
	return oauthConfig(creds).AuthCodeURL("state-token",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode trades an authorization code for a refresh token.
func ExchangeCode(ctx context.Context, creds *config.Credentials, code string) (string, error) {
	token, err := oauthConfig(creds).Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	return token.RefreshToken, nil
}

// NewGmailTransport builds a Gmail client from stored credentials.
// The refresh token must already be present; use AuthURL/ExchangeCode
// to obtain one.
func NewGmailTransport(ctx context.Context, creds *config.Credentials, logger *slog.Logger) (*GmailTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh token")
	}

	source := oauthConfig(creds).TokenSource(ctx, &oauth2.Token{
		RefreshToken: creds.RefreshToken,
	})

	service, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	logger.Info("connected to Gmail")
	return &GmailTransport{service: service, logger: logger}, nil
}

func (g *GmailTransport) Name() string {
	return "gmail"
}

// FetchUnread lists up to max unread messages and resolves each to a
// full Message.
func (g *GmailTransport) FetchUnread(ctx context.Context, max int64) ([]Message, error) {
	resp, err := g.service.Users.Messages.List("me").
		Q("is:unread").
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}

	var messages []Message
	for _, ref := range resp.Messages {
		msg, err := g.fetchMessage(ctx, ref.Id)
		if err != nil {
			g.logger.Warn("failed to fetch message", "id", ref.Id, "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func (g *GmailTransport) fetchMessage(ctx context.Context, id string) (Message, error) {
	detail, err := g.service.Users.Messages.Get("me", id).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return Message{}, &TransportError{Op: "get", Err: err}
	}

	msg := Message{
		ID:         id,
		ThreadID:   detail.ThreadId,
		ReceivedAt: time.UnixMilli(detail.InternalDate),
		Read:       true,
	}
	if msg.ThreadID == "" {
		msg.ThreadID = id
	}
	for _, label := range detail.LabelIds {
		if label == "UNREAD" {
			msg.Read = false
		}
	}

	for _, header := range detail.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			msg.From = header.Value
		case "to":
			for _, addr := range strings.Split(header.Value, ",") {
				msg.To = append(msg.To, strings.TrimSpace(addr))
			}
		case "subject":
			msg.Subject = header.Value
		case "date":
			if t, err := time.Parse(time.RFC1123Z, header.Value); err == nil {
				msg.ReceivedAt = t
			}
		}
	}

	msg.Body = strings.TrimSpace(extractGmailBody(detail.Payload, "text/plain"))
	return msg, nil
}

func extractGmailBody(payload *gmail.MessagePart, mimeType string) string {
	if payload == nil {
		return ""
	}
	if payload.MimeType == mimeType && payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data)
		}
	}
	for _, part := range payload.Parts {
		if body := extractGmailBody(part, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// MarkRead removes the UNREAD label so the message is not fetched again.
func (g *GmailTransport) MarkRead(ctx context.Context, id string) error {
	_, err := g.service.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return &TransportError{Op: "mark-read", Err: err}
	}
	return nil
}

// Send sends a plain-text email. When out.ThreadID is set the message
// joins that Gmail thread.
func (g *GmailTransport) Send(ctx context.Context, out Outbound) (string, error) {
	raw := buildRaw("", out.To, out.Subject, out.Body, "")

	resp, err := g.service.Users.Messages.Send("me", &gmail.Message{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadId: out.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", &TransportError{Op: "send", Err: err}
	}

	return resp.Id, nil
}

func (g *GmailTransport) Close() error {
	g.service = nil
	return nil
}
