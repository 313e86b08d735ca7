// Package policy implements the sender and recipient allow-lists.
package policy

import (
	"strings"

	"github.com/moltbot/moltbot-email/internal/mail"
)

// Wildcard matches any address when present in an allow-list.
const Wildcard = "*"

// SenderAllowed reports whether mail from the given From header may be
// processed. An empty list denies everyone: inbound processing is
// opt-in so an unconfigured mailbox never feeds spam to an agent.
// A pattern is either the wildcard, an exact address, or a bare domain
// matched as an "@domain" suffix. Matching is case-insensitive.
func SenderAllowed(fromHeader string, allowFrom []string) bool {
	if len(allowFrom) == 0 {
		return false
	}

	sender := strings.ToLower(mail.ExtractAddress(fromHeader))
	for _, pattern := range allowFrom {
		if pattern == Wildcard {
			return true
		}
		p := strings.ToLower(pattern)
		if sender == p {
			return true
		}
		if !strings.Contains(p, "@") && strings.HasSuffix(sender, "@"+p) {
			return true
		}
	}
	return false
}

// RecipientAllowed reports whether mail may be sent to the given
// address. An empty list allows everyone: an unset allow_to must not
// block outbound sends. Only exact case-insensitive matches (or the
// wildcard) are accepted.
func RecipientAllowed(recipient string, allowTo []string) bool {
	if len(allowTo) == 0 {
		return true
	}

	addr := strings.ToLower(mail.ExtractAddress(recipient))
	for _, pattern := range allowTo {
		if pattern == Wildcard {
			return true
		}
		if addr == strings.ToLower(pattern) {
			return true
		}
	}
	return false
}
