package integration

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/codec"
	"securechat/pkg/types"
)

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getHistory(t *testing.T, env *TestEnv) []types.HistoryEntry {
	t.Helper()
	resp, err := http.Get(env.Server.URL + "/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []types.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	return entries
}

// One submission over the realtime channel, then history shows exactly it
func TestRealtime_SubmitThenHistory(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	conn := env.DialAdmitted(t)

	SendEvent(t, conn, types.EventChatMessage, types.ChatSubmission{Username: "alice", Location: "lobby", Message: "hi"})

	// The sender receives its own broadcast, carrying ciphertext only
	var broadcast types.ChatBroadcast
	DecodeData(t, ReadEvent(t, conn, types.EventChatMessage), &broadcast)
	assert.Equal(t, "alice", broadcast.Username)
	assert.Equal(t, "lobby", broadcast.Location)
	assert.NotEqual(t, "hi", broadcast.Message)

	c, err := codec.New(env.Config.Chat.EncryptionKey)
	require.NoError(t, err)
	plaintext, err := c.Decrypt(broadcast.Message)
	require.NoError(t, err)
	assert.Equal(t, "hi", plaintext)

	// History over the realtime channel
	SendEvent(t, conn, types.EventHistory, nil)
	var entries []types.HistoryEntry
	DecodeData(t, ReadEvent(t, conn, types.EventHistory), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "lobby", entries[0].Location)
	assert.Equal(t, "hi", entries[0].Plaintext)
	assert.True(t, entries[0].Valid)

	// And over HTTP
	httpEntries := getHistory(t, env)
	require.Len(t, httpEntries, 1)
	assert.Equal(t, "hi", httpEntries[0].Plaintext)
}

// Eleven concurrent connects against the default bound of ten
func TestAdmission_EleventhConnectRejected(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	require.Equal(t, 10, env.Config.Chat.MaxConnections)

	var admitted, rejected int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	conns := make(chan *websocket.Conn, 11)

	for i := 0; i < 11; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			conn, _, err := websocket.DefaultDialer.Dial(env.WSURL, nil)
			if !assert.NoError(t, err) {
				return
			}
			conns <- conn

			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var envelope types.Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				var closeErr *websocket.CloseError
				if assert.ErrorAs(t, err, &closeErr) {
					assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
				}
				atomic.AddInt32(&rejected, 1)
				return
			}
			assert.Equal(t, types.EventConnected, envelope.Event)
			atomic.AddInt32(&admitted, 1)
		}()
	}
	close(start)
	wg.Wait()
	close(conns)

	assert.EqualValues(t, 10, admitted)
	assert.EqualValues(t, 1, rejected)

	for conn := range conns {
		_ = conn.Close()
	}
}

func TestAdmission_SlotFreedOnDisconnect(t *testing.T) {
	cfg := NewTestConfig(t)
	cfg.Chat.MaxConnections = 1
	env := StartTestEnv(t, cfg)

	first := env.DialAdmitted(t)
	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = first.Close()

	require.Eventually(t, func() bool {
		conn, _, err := websocket.DefaultDialer.Dial(env.WSURL, nil)
		if err != nil {
			return false
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var envelope types.Envelope
		return conn.ReadJSON(&envelope) == nil && envelope.Event == types.EventConnected
	}, 5*time.Second, 50*time.Millisecond)
}

// One corrupted record is marked while the others decrypt
func TestHistory_CorruptedRecordMarked(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))

	for _, msg := range []string{"first", "second", "third"} {
		resp := postJSON(t, env.Server.URL+"/chat", types.ChatSubmission{Username: "alice", Location: "lobby", Message: msg})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	db, err := sql.Open("sqlite3", env.Config.Database.Path+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE messages SET ciphertext = 'corrupted!' WHERE id = 2`)
	require.NoError(t, err)

	entries := getHistory(t, env)
	require.Len(t, entries, 3)

	assert.Equal(t, "first", entries[0].Plaintext)
	assert.True(t, entries[0].Valid)
	assert.Equal(t, types.UndecryptableMarker, entries[1].Plaintext)
	assert.False(t, entries[1].Valid)
	assert.Equal(t, "third", entries[2].Plaintext)
	assert.True(t, entries[2].Valid)
}

func TestBroadcast_ReachesEveryPeerInOrder(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	alice := env.DialAdmitted(t)
	bob := env.DialAdmitted(t)

	for _, msg := range []string{"one", "two", "three"} {
		SendEvent(t, alice, types.EventChatMessage, types.ChatSubmission{Username: "alice", Location: "lobby", Message: msg})
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		var last int64
		for i := 0; i < 3; i++ {
			var b types.ChatBroadcast
			DecodeData(t, ReadEvent(t, conn, types.EventChatMessage), &b)
			assert.Greater(t, b.ID, last)
			last = b.ID
		}
	}
}

func TestHTTPChat_BroadcastsToRealtimePeers(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	conn := env.DialAdmitted(t)

	resp := postJSON(t, env.Server.URL+"/chat", types.ChatSubmission{Username: "bob", Location: "kitchen", Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.BroadcastResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.EqualValues(t, 1, result.SequenceID)
	assert.Equal(t, 1, result.Delivered)

	var b types.ChatBroadcast
	DecodeData(t, ReadEvent(t, conn, types.EventChatMessage), &b)
	assert.Equal(t, "bob", b.Username)
}

func TestRealtime_InvalidSubmissionReportedToSenderOnly(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	sender := env.DialAdmitted(t)

	SendEvent(t, sender, types.EventChatMessage, types.ChatSubmission{Username: "", Location: "lobby", Message: "hi"})

	var payload types.ErrorPayload
	DecodeData(t, ReadEvent(t, sender, types.EventError), &payload)
	assert.Equal(t, types.ErrInvalidUsername.Error(), payload.Message)

	assert.Empty(t, getHistory(t, env))
}

func TestRealtime_OversizedMultiByteMessageKeepsConnection(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	sender := env.DialAdmitted(t)

	oversized := strings.Repeat("é", types.MaxMessageBytes/2+1)
	SendEvent(t, sender, types.EventChatMessage, types.ChatSubmission{Username: "alice", Location: "lobby", Message: oversized})

	var payload types.ErrorPayload
	DecodeData(t, ReadEvent(t, sender, types.EventError), &payload)
	assert.Equal(t, types.ErrMessageTooLarge.Error(), payload.Message)

	SendEvent(t, sender, types.EventChatMessage, types.ChatSubmission{Username: "alice", Location: "lobby", Message: "still here"})
	var b types.ChatBroadcast
	DecodeData(t, ReadEvent(t, sender, types.EventChatMessage), &b)
	assert.Equal(t, "alice", b.Username)
}

func TestHistory_SurvivesRestart(t *testing.T) {
	cfg := NewTestConfig(t)
	env := StartTestEnv(t, cfg)

	resp := postJSON(t, env.Server.URL+"/chat", types.ChatSubmission{Username: "alice", Location: "lobby", Message: "durable"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.Close(t)

	restarted := StartTestEnv(t, cfg)
	entries := getHistory(t, restarted)
	require.Len(t, entries, 1)
	assert.Equal(t, "durable", entries[0].Plaintext)
}

func TestAccounts_RegisterLoginListUsers(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))

	resp := postJSON(t, env.Server.URL+"/register", types.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, env.Server.URL+"/register", types.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "password1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, env.Server.URL+"/login", types.LoginRequest{Username: "alice", Password: "password1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var auth types.AuthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
	assert.NotEmpty(t, auth.Token)

	resp = postJSON(t, env.Server.URL+"/login", types.LoginRequest{Username: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	usersResp, err := http.Get(env.Server.URL + "/users")
	require.NoError(t, err)
	defer usersResp.Body.Close()
	var users []types.User
	require.NoError(t, json.NewDecoder(usersResp.Body).Decode(&users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}

func TestHealth_ReportsRegistry(t *testing.T) {
	env := StartTestEnv(t, NewTestConfig(t))
	env.DialAdmitted(t)

	resp, err := http.Get(env.Server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status      string         `json:"status"`
		Connections map[string]int `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Connections["admitted_connections"])
}
