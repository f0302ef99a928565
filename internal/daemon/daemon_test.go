package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/lock"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/relay"
	"github.com/matheus3301/livesync/internal/store"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

// shortDir keeps socket paths under the 104-char macOS limit.
func shortDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func offlineConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.WhatsApp.Enabled = false
	return cfg
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerOverUnixSocket(t *testing.T) {
	dir := shortDir(t, "ls-srv-*")
	cfg := offlineConfig(dir)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(nil); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	r := relay.New(db, bus.New(), relay.Loopback{}, zap.NewNop())
	srv, err := NewServer(Params{Config: cfg}, zap.NewNop(), api.NewServer(r, nil, zap.NewNop()))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go func() { _ = srv.Start() }()

	info, err := os.Stat(cfg.Socket())
	if err != nil {
		t.Fatalf("socket not created at %s: %v", cfg.Socket(), err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	client, err := api.Dial(cfg.Socket())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx := ctxT(t)
	if _, err := client.CreateConversation(ctx, "c1", "Ops"); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	m, err := client.Send(ctx, outbox.SendRequest{ClientID: "k1", ConversationID: "c1", Content: entity.Text("hi")})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if m.Temporary() || m.ConversationID != "c1" {
		t.Errorf("Send() = %+v", m)
	}

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.WhatsApp || st.ConversationCount != 1 || st.MessageCount != 1 {
		t.Errorf("Status() = %+v", st)
	}

	srv.Stop(ctx)
	if _, err := os.Stat(cfg.Socket()); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}

func TestNewServerReplacesStaleSocket(t *testing.T) {
	dir := shortDir(t, "ls-stale-*")
	socketPath := filepath.Join(dir, "d.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{Config: offlineConfig(dir), SocketPath: socketPath}, zap.NewNop(), api.NewServer(nil, nil, nil))
	if err != nil {
		t.Fatalf("NewServer() over a stale socket error = %v", err)
	}
	srv.Stop(context.Background())
}

// TestFxModuleWiring verifies the fx dependency graph resolves.
func TestFxModuleWiring(t *testing.T) {
	dir := shortDir(t, "ls-fx-*")
	if err := fx.ValidateApp(Module(Params{Config: offlineConfig(dir), Quiet: true})); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestModuleLifecycle(t *testing.T) {
	dir := shortDir(t, "ls-app-*")
	cfg := offlineConfig(dir)

	app := fxtest.New(t, Module(Params{Config: cfg, Quiet: true}))
	app.RequireStart()

	// A second daemon on the same data dir is refused.
	if _, err := lock.Acquire(cfg.DataDir); err == nil {
		t.Error("data dir lock not held by the running daemon")
	}

	client, err := api.Dial(cfg.Socket())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx := ctxT(t)
	if _, err := client.CreateConversation(ctx, "c1", ""); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	stream, err := client.Subscribe(ctx, intsync.Scope{ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = stream.Close() }()

	sent, err := client.Send(ctx, outbox.SendRequest{ClientID: "k1", ConversationID: "c1", Content: entity.Text("hi")})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Op != intsync.Insert || ev.Message == nil || ev.Message.ID != sent.ID {
		t.Errorf("event = %+v, want insert of %s", ev, sent.ID)
	}
	_ = stream.Close()

	app.RequireStop()

	if _, err := os.Stat(cfg.Socket()); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if _, ok := lock.Holder(cfg.DataDir); ok {
		t.Error("lock file still present after stop")
	}
}
