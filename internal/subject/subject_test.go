package subject

import (
	"strings"
	"testing"
)

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		prefix string
		want   string
	}{
		{
			name: "first sentence with markdown stripped",
			body: "**Hello** world. More text.",
			want: "Hello world",
		},
		{
			name: "empty body falls back",
			body: "",
			want: "Message from Moltbot",
		},
		{
			name:   "fallback keeps prefix",
			body:   "   \n\n",
			prefix: "[Bot]",
			want:   "[Bot] Message from Moltbot",
		},
		{
			name:   "long line truncated before prefix",
			body:   strings.Repeat("a", 80),
			prefix: "[Bot]",
			want:   "[Bot] " + strings.Repeat("a", 57) + "...",
		},
		{
			name: "sixty characters survive untruncated",
			body: strings.Repeat("b", 60),
			want: strings.Repeat("b", 60),
		},
		{
			name: "short sentence falls back to full line",
			body: "Hi. This is a longer line of text",
			want: "Hi. This is a longer line of text",
		},
		{
			name: "full-width sentence terminator",
			body: "こんにちは、お元気ですか？今日はいい天気です。",
			want: "こんにちは、お元気ですか",
		},
		{
			name: "header marker stripped",
			body: "# Status update for today\nmore detail below",
			want: "Status update for today",
		},
		{
			name: "list marker stripped",
			body: "- Deployment finished successfully. Everything is green.",
			want: "Deployment finished successfully",
		},
		{
			name: "bracketed annotation removed",
			body: "[agent-sig] Deployment finished successfully.",
			want: "Deployment finished successfully",
		},
		{
			name: "leading blank lines skipped",
			body: "\n\nFirst real line here.",
			want: "First real line here",
		},
		{
			name:   "prefix prepended",
			body:   "Weekly report is ready for review.",
			prefix: "[Moltbot]",
			want:   "[Moltbot] Weekly report is ready for review",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Synthesize(tt.body, tt.prefix); got != tt.want {
				t.Errorf("Synthesize(%q, %q) = %q, want %q", tt.body, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	body := "## `Result`: **all 14 checks passed**! See details below.\n\n- one\n- two"
	first := Synthesize(body, "")
	for i := 0; i < 5; i++ {
		if got := Synthesize(body, ""); got != first {
			t.Fatalf("Synthesize not deterministic: %q vs %q", got, first)
		}
	}
}
