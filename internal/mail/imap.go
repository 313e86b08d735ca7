package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/moltbot/moltbot-email/internal/config"
)

// IMAPTransport implements Transport over IMAP for non-Gmail mailboxes.
// Messages are identified by IMAP UID; the Message-ID header doubles as
// the thread id for reply threading over SMTP.
type IMAPTransport struct {
	config *config.IMAPConfig
	smtp   *config.SMTPConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPTransport creates an IMAP transport. The connection is
// established lazily on first use.
func NewIMAPTransport(cfg *config.IMAPConfig, smtpCfg *config.SMTPConfig, logger *slog.Logger) *IMAPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPTransport{
		config: cfg,
		smtp:   smtpCfg,
		logger: logger,
	}
}

func (t *IMAPTransport) Name() string {
	return "imap"
}

func runPasswordCmd(cmdline string) (string, error) {
	if cmdline == "" {
		return "", nil
	}
	out, err := exec.Command("sh", "-c", cmdline).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get password: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (t *IMAPTransport) connect() (*imapclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	password, err := runPasswordCmd(t.config.PasswordCmd)
	if err != nil {
		return nil, err
	}

	client, err := imapclient.DialTLS(t.config.Server, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	if err := client.Login(t.config.Username, password).Wait(); err != nil {
		client.Close()
		return nil, &TransportError{Op: "login", Err: err}
	}

	t.client = client
	t.logger.Info("connected to IMAP server", "server", t.config.Server)
	return client, nil
}

func (t *IMAPTransport) folder() string {
	if t.config.Folder != "" {
		return t.config.Folder
	}
	return "INBOX"
}

// FetchUnread searches the folder for unseen messages and fetches up to
// max of them, oldest first.
func (t *IMAPTransport) FetchUnread(ctx context.Context, max int64) ([]Message, error) {
	client, err := t.connect()
	if err != nil {
		return nil, err
	}

	if _, err := client.Select(t.folder(), nil).Wait(); err != nil {
		t.reset()
		return nil, &TransportError{Op: "select", Err: err}
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		t.reset()
		return nil, &TransportError{Op: "search", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if max > 0 && int64(len(uids)) > max {
		uids = uids[:max]
	}

	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}

	buffers, err := client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		t.reset()
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	var messages []Message
	for _, buf := range buffers {
		msg, err := parseIMAPMessage(buf)
		if err != nil {
			t.logger.Warn("failed to parse message", "uid", buf.UID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func parseIMAPMessage(buf *imapclient.FetchMessageBuffer) (Message, error) {
	env := buf.Envelope
	if env == nil {
		return Message{}, fmt.Errorf("no envelope")
	}

	msg := Message{
		ID:         strconv.FormatUint(uint64(buf.UID), 10),
		ThreadID:   env.MessageID,
		Subject:    env.Subject,
		ReceivedAt: env.Date,
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}

	if len(env.From) > 0 {
		from := env.From[0]
		if from.Name != "" {
			msg.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
		} else {
			msg.From = from.Addr()
		}
	}
	for _, addr := range env.To {
		msg.To = append(msg.To, addr.Addr())
	}

	for _, section := range buf.BodySection {
		body, err := extractPlainText(section)
		if err != nil {
			continue
		}
		if body != "" {
			msg.Body = strings.TrimSpace(body)
			break
		}
	}

	return msg, nil
}

func extractPlainText(section []byte) (string, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(section))
	if err != nil {
		return "", err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		if h, ok := part.Header.(*gomail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			if strings.HasPrefix(ct, "text/plain") {
				body, _ := io.ReadAll(part.Body)
				return string(body), nil
			}
		}
	}

	return "", nil
}

// MarkRead adds the \Seen flag to the message's UID.
func (t *IMAPTransport) MarkRead(ctx context.Context, id string) error {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", id, err)
	}

	client, err := t.connect()
	if err != nil {
		return err
	}

	if _, err := client.Select(t.folder(), nil).Wait(); err != nil {
		t.reset()
		return &TransportError{Op: "select", Err: err}
	}

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagSeen},
		Silent: true,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		t.reset()
		return &TransportError{Op: "store", Err: err}
	}

	return nil
}

// Send submits the message over SMTP. out.ThreadID is treated as the
// Message-ID being replied to and becomes In-Reply-To/References.
func (t *IMAPTransport) Send(ctx context.Context, out Outbound) (string, error) {
	if t.smtp == nil {
		return "", fmt.Errorf("SMTP not configured")
	}

	password, err := runPasswordCmd(t.smtp.PasswordCmd)
	if err != nil {
		return "", err
	}

	host := t.smtp.Server
	if !strings.Contains(host, ":") {
		host += ":587"
	}
	hostOnly := strings.Split(host, ":")[0]

	inReplyTo := ""
	if strings.HasPrefix(out.ThreadID, "<") {
		inReplyTo = out.ThreadID
	}
	raw := buildRaw(t.smtp.From, out.To, out.Subject, out.Body, inReplyTo)

	auth := smtp.PlainAuth("", t.smtp.Username, password, hostOnly)
	if err := smtp.SendMail(host, auth, t.smtp.From, []string{out.To}, raw); err != nil {
		return "", &TransportError{Op: "send", Err: err}
	}

	t.logger.Info("sent email via SMTP", "to", out.To, "subject", out.Subject)
	return "", nil
}

func (t *IMAPTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
}

func (t *IMAPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Logout()
		t.client.Close()
		t.client = nil
	}
	return nil
}
