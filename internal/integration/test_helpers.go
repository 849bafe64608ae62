package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"securechat/internal/app"
	"securechat/internal/config"
	"securechat/pkg/types"
)

// TestEnv is a fully wired application served by httptest
type TestEnv struct {
	App    *app.Application
	Server *httptest.Server
	Config *config.Config
	WSURL  string
}

// NewTestConfig returns a valid configuration backed by a temp database
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "securechat.db")
	cfg.Database.RetryDelay = 0
	cfg.Chat.EncryptionKey = "integration-test-message-key"
	cfg.Auth.TokenSecret = "integration-test-token-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	return cfg
}

// StartTestEnv builds and serves the application; it is stopped on cleanup
func StartTestEnv(t *testing.T, cfg *config.Config) *TestEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	// The hub must be running; the HTTP side is served by httptest instead of Start
	server := httptest.NewServer(application.Handler())
	env := &TestEnv{
		App:    application,
		Server: server,
		Config: cfg,
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
	if err := application.StartHub(context.Background()); err != nil {
		server.Close()
		t.Fatalf("Failed to start hub: %v", err)
	}

	t.Cleanup(func() { env.Close(t) })
	return env
}

// Close stops the server and application; safe to call twice
func (e *TestEnv) Close(t *testing.T) {
	t.Helper()
	if e.Server == nil {
		return
	}
	e.Server.CloseClientConnections()
	e.Server.Close()
	e.Server = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.App.Stop(ctx); err != nil {
		t.Logf("Application stop reported: %v", err)
	}
}

// Dial opens a websocket client against the environment
func (e *TestEnv) Dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.WSURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialAdmitted dials and waits for the "connected" event
func (e *TestEnv) DialAdmitted(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := e.Dial(t)
	ReadEvent(t, conn, types.EventConnected)
	return conn
}

// SendEvent writes one envelope frame
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(types.OutboundEnvelope{Event: event, Data: data}); err != nil {
		t.Fatalf("Failed to send %s event: %v", event, err)
	}
}

// ReadEvent reads frames until one with the wanted event arrives
func ReadEvent(t *testing.T, conn *websocket.Conn, event string) types.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("Failed waiting for %q event: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

// DecodeData unmarshals an envelope payload
func DecodeData(t *testing.T, env types.Envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", env.Event, err)
	}
}
