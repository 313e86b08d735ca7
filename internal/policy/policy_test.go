package policy

import "testing"

func TestSenderAllowed(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		allowFrom []string
		want      bool
	}{
		{"empty list denies", "jane@x.com", nil, false},
		{"empty list denies display name", "Jane Doe <jane@x.com>", []string{}, false},
		{"wildcard allows anyone", "anyone@anywhere.net", []string{"*"}, true},
		{"wildcard among others", "stranger@spam.biz", []string{"boss@corp.com", "*"}, true},
		{"exact match", "jane@x.com", []string{"jane@x.com"}, true},
		{"exact match with display name", "Jane Doe <jane@x.com>", []string{"jane@x.com"}, true},
		{"exact match case-insensitive", "Jane@X.COM", []string{"jane@x.com"}, true},
		{"pattern case-insensitive", "jane@x.com", []string{"JANE@X.COM"}, true},
		{"domain suffix match", "Bob <bob@corp.com>", []string{"corp.com"}, true},
		{"domain suffix no match", "Bob <bob@other.com>", []string{"corp.com"}, false},
		{"domain pattern does not match subdomain-ish address", "bob@notcorp.com", []string{"corp.com"}, false},
		{"pattern with @ is not a domain", "bob@corp.com", []string{"x@corp.com"}, false},
		{"no match", "eve@evil.com", []string{"jane@x.com", "corp.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SenderAllowed(tt.from, tt.allowFrom); got != tt.want {
				t.Errorf("SenderAllowed(%q, %v) = %v, want %v", tt.from, tt.allowFrom, got, tt.want)
			}
		})
	}
}

func TestRecipientAllowed(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		allowTo   []string
		want      bool
	}{
		{"empty list allows", "anyone@anywhere.net", nil, true},
		{"wildcard allows", "anyone@anywhere.net", []string{"*"}, true},
		{"exact match", "jane@x.com", []string{"jane@x.com"}, true},
		{"case-insensitive", "Jane@X.com", []string{"jane@x.com"}, true},
		{"display name stripped", "Jane <jane@x.com>", []string{"jane@x.com"}, true},
		{"no domain suffix matching for recipients", "bob@corp.com", []string{"corp.com"}, false},
		{"no match", "eve@evil.com", []string{"jane@x.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecipientAllowed(tt.recipient, tt.allowTo); got != tt.want {
				t.Errorf("RecipientAllowed(%q, %v) = %v, want %v", tt.recipient, tt.allowTo, got, tt.want)
			}
		})
	}
}
