package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ox-market-maker/internal/ox/auth"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type serverMsg struct {
	raw  string
	conn int
}

func newRecordingServer(t *testing.T, ctx context.Context, closeFirst bool) (*httptest.Server, chan serverMsg) {
	t.Helper()
	msgCh := make(chan serverMsg, 32)
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		id := int(conns.Add(1))
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			select {
			case msgCh <- serverMsg{raw: string(data), conn: id}:
			default:
			}
			if closeFirst && id == 1 && strings.Contains(string(data), `"subscribe"`) {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, msgCh
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextRequest(t *testing.T, ctx context.Context, msgCh chan serverMsg) (request, int) {
	t.Helper()
	for {
		select {
		case msg := <-msgCh:
			if msg.raw == "ping" {
				continue
			}
			var req request
			if err := json.Unmarshal([]byte(msg.raw), &req); err != nil {
				t.Fatalf("decode request %q: %v", msg.raw, err)
			}
			return req, msg.conn
		case <-ctx.Done():
			t.Fatalf("timed out waiting for request")
		}
	}
}

func TestClientSendsPing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	server, msgCh := newRecordingServer(t, ctx, false)

	client := New(wsURL(server), 10*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	go func() { _ = client.Run(ctx, nil) }()

	for {
		select {
		case msg := <-msgCh:
			if msg.raw == "ping" {
				return
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for ping")
		}
	}
}

func TestClientReplaysSubscriptionsOnConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server, msgCh := newRecordingServer(t, ctx, false)

	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Subscribe(ctx, "ticker:ENA-USD-SWAP-LIN", "bestBidAsk:ENA-USD-SWAP-LIN", "ticker:ENA-USD-SWAP-LIN"); err != nil {
		t.Fatalf("subscribe before connect: %v", err)
	}
	go func() { _ = client.Run(ctx, nil) }()

	req, _ := nextRequest(t, ctx, msgCh)
	if req.Op != "subscribe" {
		t.Fatalf("expected subscribe, got %q", req.Op)
	}
	if len(req.Args) != 2 || req.Args[0] != "ticker:ENA-USD-SWAP-LIN" || req.Args[1] != "bestBidAsk:ENA-USD-SWAP-LIN" {
		t.Fatalf("unexpected args %v", req.Args)
	}
}

func TestClientLogsInBeforeSubscribing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server, msgCh := newRecordingServer(t, ctx, false)

	signer, err := auth.NewSigner("key", "secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	client.SetSigner(signer)
	_ = client.Subscribe(ctx, "position:all")
	go func() { _ = client.Run(ctx, nil) }()

	login, _ := nextRequest(t, ctx, msgCh)
	if login.Op != "login" {
		t.Fatalf("expected login first, got %q", login.Op)
	}
	data, ok := login.Data.(map[string]any)
	if !ok || data["apiKey"] != "key" || data["signature"] == "" {
		t.Fatalf("unexpected login data %v", login.Data)
	}
	sub, _ := nextRequest(t, ctx, msgCh)
	if sub.Op != "subscribe" || len(sub.Args) != 1 || sub.Args[0] != "position:all" {
		t.Fatalf("unexpected subscribe %+v", sub)
	}
}

func TestClientUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server, msgCh := newRecordingServer(t, ctx, false)

	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	_ = client.Subscribe(ctx, "bestBidAsk:A", "bestBidAsk:B")
	go func() { _ = client.Run(ctx, nil) }()
	if req, _ := nextRequest(t, ctx, msgCh); req.Op != "subscribe" {
		t.Fatalf("expected initial subscribe, got %q", req.Op)
	}

	if err := client.Unsubscribe(ctx, "bestBidAsk:A", "bestBidAsk:missing"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	req, _ := nextRequest(t, ctx, msgCh)
	if req.Op != "unsubscribe" || len(req.Args) != 1 || req.Args[0] != "bestBidAsk:A" {
		t.Fatalf("unexpected unsubscribe %+v", req)
	}
	if got := client.Channels(); len(got) != 1 || got[0] != "bestBidAsk:B" {
		t.Fatalf("unexpected tracked channels %v", got)
	}
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	server, msgCh := newRecordingServer(t, ctx, true)

	var reconnects atomic.Int32
	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	client.OnReconnect(func() { reconnects.Add(1) })
	_ = client.Subscribe(ctx, "ticker:A")
	go func() { _ = client.Run(ctx, nil) }()

	for {
		req, conn := nextRequest(t, ctx, msgCh)
		if conn >= 2 {
			if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0] != "ticker:A" {
				t.Fatalf("unexpected replay %+v", req)
			}
			break
		}
	}
	deadline := time.Now().Add(time.Second)
	for reconnects.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reconnects.Load() == 0 {
		t.Fatalf("expected reconnect callback")
	}
}

func TestClientDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_ = conn.Write(ctx, websocket.MessageText, []byte("pong"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"table":"ticker","data":[]}`))
		<-ctx.Done()
	}))
	defer server.Close()

	got := make(chan string, 4)
	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	go func() {
		_ = client.Run(ctx, func(msg json.RawMessage) { got <- string(msg) })
	}()
	select {
	case msg := <-got:
		if !strings.Contains(msg, `"ticker"`) {
			t.Fatalf("expected ticker message first (pong filtered), got %s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}
