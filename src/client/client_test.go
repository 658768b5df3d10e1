package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/hendrywilliam/herald/src/api"
	"github.com/hendrywilliam/herald/src/checkpoint"
	"github.com/hendrywilliam/herald/src/gateway"
	"github.com/hendrywilliam/herald/src/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *utils.AppConfig {
	return &utils.AppConfig{
		DiscordBotToken:    "token",
		DiscordHTTPBaseURL: baseURL,
		Intents:            []string{"guilds", "guild_messages"},
		Presence:           utils.PresenceConfig{Status: "online"},
		Gateway: utils.GatewayConfig{
			HandshakeTimeout: 5 * time.Second,
			HeartbeatMargin:  2 * time.Second,
		},
		Checkpoint: utils.CheckpointConfig{Driver: utils.CheckpointNone},
	}
}

// discordServer serves /gateway/bot, one message route and a websocket
// endpoint that answers identify with READY followed by afterReady.
func discordServer(t *testing.T, afterReady ...string) (*httptest.Server, <-chan []byte) {
	t.Helper()
	identified := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	var wsURL string
	mux.HandleFunc("/api/v10/gateway/bot", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bot token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"401: Unauthorized","code":0}`))
			return
		}
		fmt.Fprintf(w, `{"url":%q,"shards":1,"session_start_limit":{"total":1000,"remaining":999}}`, wsURL)
	})
	mux.HandleFunc("/api/v10/channels/1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"2","channel_id":"1","content":"hi"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":10,"s":null,"t":null,"d":{"heartbeat_interval":41250}}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Op int `json:"op"`
			}
			if json.Unmarshal(msg, &frame) != nil || frame.Op != gateway.OpcodeIdentify {
				continue
			}
			select {
			case identified <- msg:
			default:
			}
			conn.WriteMessage(websocket.TextMessage, []byte(
				`{"op":0,"s":1,"t":"READY","d":{"v":10,"session_id":"abc","resume_gateway_url":"ws://127.0.0.1:1","user":{"id":"1","username":"herald"}}}`))
			for _, frame := range afterReady {
				conn.WriteMessage(websocket.TextMessage, []byte(frame))
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, identified
}

func TestRunConnectsThroughBootstrap(t *testing.T) {
	srv, identified := discordServer(t)
	cfg := testConfig(srv.URL + "/api/v10")
	cfg.Checkpoint.Driver = "memory"

	c, err := New(cfg, slog.New(slog.DiscardHandler), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Gateway().State() == gateway.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "abc", c.Gateway().SessionID())

	select {
	case msg := <-identified:
		assert.Contains(t, string(msg), `"token":"token"`)
		assert.Contains(t, string(msg), `"intents":513`)
		assert.Contains(t, string(msg), `"status":"online"`)
	case <-time.After(time.Second):
		t.Fatal("identify was not received")
	}

	msg, err := c.Messages().CreateMessage(ctx, "1", api.CreateMessageData{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "2", msg.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, c.Close())
	assert.Equal(t, gateway.StateDisconnected, c.Gateway().State())
}

func TestRunReturnsWhenGatewayStopsItself(t *testing.T) {
	srv, _ := discordServer(t, `{"op":9,"s":null,"t":null,"d":false}`)
	cfg := testConfig(srv.URL + "/api/v10")

	c, err := New(cfg, slog.New(slog.DiscardHandler), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, gateway.ErrSessionInvalidated)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept blocking after the session was invalidated")
	}
	assert.Equal(t, gateway.StateDisconnected, c.Gateway().State())
}

func TestRunFailsWhenBootstrapIsRejected(t *testing.T) {
	srv, _ := discordServer(t)
	cfg := testConfig(srv.URL + "/api/v10")
	cfg.DiscordBotToken = "wrong"

	c, err := New(cfg, slog.New(slog.DiscardHandler), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer c.Close()

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap gateway")
}

func TestNewOpensCheckpointStores(t *testing.T) {
	mr := miniredis.RunT(t)
	tests := []struct {
		name string
		cfg  func(*utils.AppConfig)
		opts []Option
	}{
		{"none", func(*utils.AppConfig) {}, nil},
		{"memory", func(c *utils.AppConfig) { c.Checkpoint.Driver = "memory" }, nil},
		{"sqlite", func(c *utils.AppConfig) {
			c.Checkpoint.Driver = "sqlite"
			c.Checkpoint.SQLitePath = filepath.Join(t.TempDir(), "herald.db")
		}, nil},
		{"redis", func(c *utils.AppConfig) {
			c.Checkpoint.Driver = "redis"
			c.Checkpoint.RedisAddr = mr.Addr()
		}, []Option{WithRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://discord.test/api/v10")
			tt.cfg(cfg)
			c, err := New(cfg, slog.New(slog.DiscardHandler), tt.opts...)
			require.NoError(t, err)
			if tt.name == "none" {
				assert.Nil(t, c.store)
			} else {
				require.NotNil(t, c.store)
				ctx := context.Background()
				require.NoError(t, c.store.Save(ctx, checkpoint.Key(0), checkpoint.Checkpoint{SessionID: "s", ResumeGatewayURL: "wss://r"}))
			}
			assert.NoError(t, c.Close())
		})
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := testConfig("https://discord.test/api/v10")
	cfg.Checkpoint.Driver = "etcd"
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, checkpoint.ErrInvalidStoreType)
}

func TestNewBuildsStatusServer(t *testing.T) {
	cfg := testConfig("https://discord.test/api/v10")
	c, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, c.status)
	c.Close()

	cfg.Status.Addr = "127.0.0.1:0"
	c, err = New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.status)
	c.Close()
}
