// Package mail provides mailbox transports for the email channel.
package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Message is one inbound mailbox message. It is immutable once fetched.
type Message struct {
	ID         string    // Provider-unique identifier
	ThreadID   string    // Provider thread/conversation identifier
	From       string    // Raw From header, may include a display name
	To         []string  // Recipient addresses
	Subject    string    // Subject header
	Body       string    // Plain text body
	ReceivedAt time.Time // When the message was received
	Read       bool      // Whether the provider considers it read
}

// Outbound describes an email to send. ThreadID, when set, attaches the
// message to an existing conversation.
type Outbound struct {
	To       string
	Subject  string
	Body     string
	ThreadID string
}

// Transport is the mailbox provider contract consumed by the poller and
// the channel send hook.
type Transport interface {
	// Name returns the transport name (e.g. "gmail", "imap").
	Name() string

	// FetchUnread returns up to max unread messages in provider order.
	// Callers must not assume the mailbox is drained in one call.
	FetchUnread(ctx context.Context, max int64) ([]Message, error)

	// MarkRead marks a message read so it is not fetched again.
	MarkRead(ctx context.Context, id string) error

	// Send sends an email and returns the provider message id.
	Send(ctx context.Context, out Outbound) (string, error)

	// Close releases the underlying client.
	Close() error
}

// TransportError wraps a provider failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// ExtractAddress returns the bare address from a header value of the
// form "Display Name <addr>". Without angle brackets the whole trimmed
// string is the address.
func ExtractAddress(header string) string {
	if m := angleAddr.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return strings.TrimSpace(header)
}

// encodeHeaderWord encodes a header value per RFC 2047 when it contains
// non-ASCII characters. Pure ASCII values pass through unchanged.
func encodeHeaderWord(value string) string {
	ascii := true
	for i := 0; i < len(value); i++ {
		if value[i] > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		return value
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(value)) + "?="
}

// buildRaw assembles an RFC 822 plain-text message. inReplyTo, when
// non-empty, adds the threading headers SMTP-style transports need.
func buildRaw(from, to, subject, body, inReplyTo string) []byte {
	var msg strings.Builder
	if from != "" {
		msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	}
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", encodeHeaderWord(subject)))
	if inReplyTo != "" {
		msg.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", inReplyTo))
		msg.WriteString(fmt.Sprintf("References: %s\r\n", inReplyTo))
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}
