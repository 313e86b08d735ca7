package routing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeHostCLI drops a shell script that stands in for the moltbot
// host CLI.
func writeHostCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moltbot")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBridgeResolveRouteMintsAndPersists(t *testing.T) {
	cli := writeHostCLI(t, `echo '{"agent_id":"agent-1"}'`)
	store := openTestStore(t)
	bridge := NewBridge(cli, "dm", store, nil)

	route, err := bridge.ResolveRoute(context.Background(), "default", "bob@corp.com")
	if err != nil {
		t.Fatal(err)
	}
	if route.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", route.AgentID)
	}
	if route.SessionKey == "" {
		t.Fatal("expected a minted session key")
	}

	// The second resolve must hit the store, not the host: break the
	// CLI and resolve again.
	bridge.cliPath = "/nonexistent/moltbot"
	again, err := bridge.ResolveRoute(context.Background(), "default", "bob@corp.com")
	if err != nil {
		t.Fatal(err)
	}
	if again.SessionKey != route.SessionKey {
		t.Errorf("session key changed across resolves: %q != %q", again.SessionKey, route.SessionKey)
	}

	// A different sender gets its own session.
	bridge.cliPath = cli
	other, err := bridge.ResolveRoute(context.Background(), "default", "ann@corp.com")
	if err != nil {
		t.Fatal(err)
	}
	if other.SessionKey == route.SessionKey {
		t.Error("distinct senders must not share a session key")
	}
}

func TestBridgeDispatchStreamsReplies(t *testing.T) {
	cli := writeHostCLI(t, `
cat >/dev/null
echo '{"text":"first reply"}'
echo ''
echo 'not json'
echo '{"text":""}'
echo '{"text":"second reply"}'
`)
	store := openTestStore(t)
	bridge := NewBridge(cli, "dm", store, nil)

	in := Inbound{
		AccountID: "default",
		Sender:    "bob@corp.com",
		ThreadID:  "thread-1",
		MessageID: "m1",
		Body:      "do the thing",
		Route:     Route{SessionKey: "sess-abc", AgentID: "agent-1"},
	}

	var delivered []string
	err := bridge.Dispatch(context.Background(), in, func(reply Reply) error {
		delivered = append(delivered, reply.Text)
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Blank, malformed, and empty-text lines are skipped.
	want := []string{"first reply", "second reply"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered = %v, want %v", delivered, want)
		}
	}

	key, err := store.GetThreadSession("thread-1")
	if err != nil {
		t.Fatal(err)
	}
	if key != "sess-abc" {
		t.Errorf("thread link = %q, want sess-abc", key)
	}
}

func TestBridgeDispatchDeliverErrorKeepsDraining(t *testing.T) {
	cli := writeHostCLI(t, `
cat >/dev/null
echo '{"text":"first"}'
echo '{"text":"second"}'
`)
	store := openTestStore(t)
	bridge := NewBridge(cli, "dm", store, nil)

	var delivered []string
	var reported []error
	err := bridge.Dispatch(context.Background(), Inbound{ThreadID: "t", Route: Route{SessionKey: "s"}},
		func(reply Reply) error {
			delivered = append(delivered, reply.Text)
			if reply.Text == "first" {
				return errors.New("send failed")
			}
			return nil
		},
		func(err error) { reported = append(reported, err) },
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(delivered) != 2 {
		t.Errorf("a delivery error must not stop the stream, delivered=%v", delivered)
	}
	if len(reported) != 1 {
		t.Errorf("expected one reported error, got %d", len(reported))
	}
}

func TestBridgeDispatchFailureSurfacesStderr(t *testing.T) {
	cli := writeHostCLI(t, `
cat >/dev/null
echo 'session not found' >&2
exit 1
`)
	store := openTestStore(t)
	bridge := NewBridge(cli, "dm", store, nil)

	err := bridge.Dispatch(context.Background(), Inbound{ThreadID: "t", Route: Route{SessionKey: "s"}},
		func(Reply) error { return nil }, nil)
	if err == nil {
		t.Fatal("expected dispatch failure")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error should carry host stderr, got %v", err)
	}
}

func TestBridgeIsAvailable(t *testing.T) {
	store := openTestStore(t)

	if !NewBridge("sh", "dm", store, nil).IsAvailable() {
		t.Error("sh should be available")
	}
	if NewBridge("moltbot-surely-not-installed", "dm", store, nil).IsAvailable() {
		t.Error("missing binary should not be available")
	}
}
