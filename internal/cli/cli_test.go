package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ricochet1k/orbitlink/internal/config"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/devserver"
	"github.com/ricochet1k/orbitlink/internal/heartbeat"
	"github.com/ricochet1k/orbitlink/internal/logging"
	"github.com/ricochet1k/orbitlink/internal/notify"
	"github.com/ricochet1k/orbitlink/internal/session"
	"github.com/ricochet1k/orbitlink/internal/storage"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling
// reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfig, "")
	out := &syncBuffer{}
	root := NewRootCommand(strings.NewReader(""), out, &syncBuffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func startDevServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(devserver.New(devserver.Options{Logger: logging.Discard()}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime"
}

func readPrefs(t *testing.T, dir string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "preferences.json"))
	if err != nil {
		t.Fatalf("read preferences: %v", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		t.Fatalf("decode preferences: %v", err)
	}
	return values
}

func TestSetup_FlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  url: ws://file.example/api/realtime\nlogging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a := &app{errOut: &bytes.Buffer{}}
	fs := pflag.NewFlagSet("orbitlink", pflag.ContinueOnError)
	bindGlobalFlags(fs, a)
	if err := fs.Parse([]string{"-c", cfgPath, "--log-level", "debug", "--state-dir", dir, "--no-desktop"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := a.setup(fs); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if a.cfg.Server.URL != "ws://file.example/api/realtime" {
		t.Fatalf("url = %q, want value from file", a.cfg.Server.URL)
	}
	if a.cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q, want debug", a.cfg.Logging.Level)
	}
	if a.cfg.Paths.State != dir {
		t.Fatalf("state = %q, want %q", a.cfg.Paths.State, dir)
	}
	if a.cfg.Notifications.Desktop {
		t.Fatalf("desktop notifications still enabled")
	}
	if a.notifier(storage.NewMemoryPreferences()) != nil {
		t.Fatalf("expected nil notifier")
	}
}

func TestNotifier_RestoresStoredPermission(t *testing.T) {
	a := &app{in: strings.NewReader(""), errOut: &bytes.Buffer{}, cfg: config.Default()}
	a.cfg.Notifications.Desktop = true

	prefs := storage.NewMemoryPreferences()
	if got := a.notifier(prefs).Permission(); got != notify.PermissionDefault {
		t.Fatalf("permission without a stored value = %s, want default", got)
	}

	_ = prefs.Set(storage.KeyNotificationPermission, string(notify.PermissionGranted))
	if got := a.notifier(prefs).Permission(); got != notify.PermissionGranted {
		t.Fatalf("permission = %s, want granted from preferences", got)
	}

	_ = prefs.Set(storage.KeyNotificationPermission, "bogus")
	if got := a.notifier(prefs).Permission(); got != notify.PermissionDefault {
		t.Fatalf("permission with a bad stored value = %s, want default", got)
	}
}

func TestSetup_RejectsInvalidConfig(t *testing.T) {
	_, err := runCLI(t, context.Background(), "--log-level", "loud", "--state-dir", t.TempDir(), "notify", "--enabled=false")
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("err = %v, want logging.level error", err)
	}
}

func TestNotify_EnabledFlagStoresPreference(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, context.Background(), "--state-dir", dir, "notify", "--enabled=false"); err != nil {
		t.Fatalf("notify --enabled: %v", err)
	}
	if got := readPrefs(t, dir)[storage.KeyNotificationsEnabled]; got != "false" {
		t.Fatalf("notifications_enabled = %q, want false", got)
	}

	out, err := runCLI(t, context.Background(), "--state-dir", dir, "notify", "Build done", "all green")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(out, "notification disabled: Build done") {
		t.Fatalf("output missing disabled outcome:\n%s", out)
	}
	if !strings.Contains(out, "[info] Build done: all green") {
		t.Fatalf("output missing in-app message:\n%s", out)
	}
}

func TestNotify_WithoutDesktopFallsBackInApp(t *testing.T) {
	out, err := runCLI(t, context.Background(), "--state-dir", t.TempDir(), "--no-desktop", "notify", "Heads up", "server restarted")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(out, "notification unsupported") {
		t.Fatalf("output missing unsupported outcome:\n%s", out)
	}
	if !strings.Contains(out, "Desktop notifications are not available here. Heads up: server restarted") {
		t.Fatalf("output missing fallback message:\n%s", out)
	}
}

func TestSend_PrintsCommandOutput(t *testing.T) {
	srv := startDevServer(t)

	out, err := runCLI(t, context.Background(),
		"--url", wsURL(srv), "--state-dir", t.TempDir(), "--no-desktop",
		"send", "alpha", "build", `{"target":"all"}`, "--timeout", "5s")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if payload["operation"] != "build" {
		t.Fatalf("operation = %v, want build", payload["operation"])
	}
	if data, _ := payload["data"].(map[string]any); data["target"] != "all" {
		t.Fatalf("data = %v", payload["data"])
	}
}

func TestSend_RejectsInvalidData(t *testing.T) {
	_, err := runCLI(t, context.Background(), "--state-dir", t.TempDir(), "send", "alpha", "build", "{nope")
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("err = %v, want invalid JSON", err)
	}
}

func TestWatch_JoinsAndRemembersProject(t *testing.T) {
	srv := startDevServer(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Setenv(config.EnvConfig, "")
	out := &syncBuffer{}
	root := NewRootCommand(strings.NewReader(""), out, &syncBuffer{})
	root.SetArgs([]string{"--url", wsURL(srv), "--state-dir", dir, "--no-desktop", "watch", "alpha"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "status alpha=ready(pending=0)") {
		if time.Now().After(deadline) {
			t.Fatalf("never saw alpha ready:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop")
	}
	if !strings.Contains(out.String(), "connected") {
		t.Fatalf("output missing connected:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "project_ready project=alpha") {
		t.Fatalf("output missing project_ready:\n%s", out.String())
	}
	if got := readPrefs(t, dir)[storage.KeyLastProject]; got != "alpha" {
		t.Fatalf("last_project = %q, want alpha", got)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	a := &app{logger: logging.Discard()}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := devserver.New(devserver.Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	shutdown := make(chan struct{})
	go func() {
		done <- a.serve(ctx, ln, srv.Router(), func() { close(shutdown) })
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return")
	}
	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatalf("shutdown hook not called")
	}
}

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		ev   interface{ Name() string }
		want string
	}{
		{connection.Connected{}, "connected"},
		{connection.Disconnected{Reason: realtimeTypes.ReasonPingTimeout}, `disconnected reason="ping timeout"`},
		{connection.ReconnectAttempt{Attempt: 2}, "reconnect_attempt attempt=2"},
		{connection.ReconnectFailed{Attempts: 5}, "reconnect_failed attempts=5"},
		{connection.ConnectError{Attempt: 1, Err: errors.New("refused")}, "connection_error attempt=1 terminal=false: refused"},
		{connection.ServerError{Code: "PERMISSION_DENIED", Message: "nope"}, "server_error code=PERMISSION_DENIED: nope"},
		{connection.Message{Envelope: realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong}}, "message type=pong"},
		{session.Ready{ProjectID: "alpha"}, "project_ready project=alpha"},
		{heartbeat.Stalled{Silence: 121 * time.Second}, "liveness_stalled silence=2m1s"},
		{notify.InAppMessage{Level: notify.LevelWarning, Text: "careful"}, "[warning] careful"},
	}
	for _, tc := range cases {
		if got := formatEvent(tc.ev); got != tc.want {
			t.Fatalf("formatEvent(%T) = %q, want %q", tc.ev, got, tc.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	if got := formatStatus(nil); got != "status none" {
		t.Fatalf("formatStatus(nil) = %q", got)
	}
	got := formatStatus([]session.ProjectStatus{
		{ID: "alpha", State: session.StateReady},
		{ID: "beta", State: session.StateConnecting, Pending: 2},
	})
	if want := "status alpha=ready(pending=0) beta=connecting(pending=2)"; got != want {
		t.Fatalf("formatStatus = %q, want %q", got, want)
	}
}

func TestTerminalError(t *testing.T) {
	if terminalError(connection.ConnectError{Attempt: 1, Err: errors.New("x")}) != nil {
		t.Fatalf("non-terminal connect error treated as terminal")
	}
	if terminalError(connection.ConnectError{Attempt: 5, Err: errors.New("x"), Terminal: true}) == nil {
		t.Fatalf("terminal connect error ignored")
	}
	if terminalError(connection.ReconnectFailed{Attempts: 5}) == nil {
		t.Fatalf("reconnect_failed ignored")
	}
}
