package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/bus"
	"github.com/stellarlinkco/fieldnote/internal/config"
)

const webUIChannelName = "webui"

// maxFrameBytes bounds one websocket frame, enough for a few minutes of
// compressed audio in base64.
const maxFrameBytes = 16 << 20

// wsMessage is one websocket frame. Clients send "message" frames with text
// content or "audio" frames with base64 data and its MIME type; the server
// replies with "message" frames.
type wsMessage struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebUIChannel struct {
	BaseChannel
	addr     string
	server   *http.Server
	listener net.Listener
	clients  sync.Map
	nextID   atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, logger *zap.Logger) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port < 0 {
		return nil, fmt.Errorf("invalid webui port %d", port)
	}
	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom, logger),
		addr:        net.JoinHostPort(gwCfg.Host, fmt.Sprint(port)),
	}
	return ch, nil
}

// Addr returns the listening address once started.
func (w *WebUIChannel) Addr() string {
	if w.listener == nil {
		return w.addr
	}
	return w.listener.Addr().String()
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleIndex)
	mux.HandleFunc("/ws", w.handleWS)

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("webui listen: %w", err)
	}
	w.listener = ln
	w.server = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		w.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

func (w *WebUIChannel) handleIndex(wr http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(wr, r)
		return
	}
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = wr.Write([]byte(indexHTML))
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Warn("websocket accept error", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	w.logger.Info("client connected", zap.String("client", clientID))

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.logger.Info("client disconnected", zap.String("client", clientID))
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		inbound, ok := w.toInbound(clientID, msg)
		if !ok {
			continue
		}

		if !w.IsAllowed(clientID) {
			w.logger.Warn("rejected message", zap.String("client", clientID))
			continue
		}

		select {
		case w.bus.Inbound <- inbound:
		case <-r.Context().Done():
			return
		}
	}
}

func (w *WebUIChannel) toInbound(clientID string, msg wsMessage) (bus.InboundMessage, bool) {
	in := bus.InboundMessage{
		Channel:   webUIChannelName,
		SenderID:  clientID,
		ChatID:    clientID,
		Timestamp: time.Now(),
	}
	switch msg.Type {
	case "message":
		if msg.Content == "" {
			return in, false
		}
		in.Content = msg.Content
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil || len(audio) == 0 || msg.MIMEType == "" {
			w.logger.Warn("dropping invalid audio frame", zap.String("client", clientID))
			return in, false
		}
		in.Audio = audio
		in.AudioMIME = msg.MIMEType
		in.Content = msg.Content
	default:
		return in, false
	}
	return in, true
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{
		Type:    "message",
		Content: msg.Content,
	})
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast to all clients if no specific target
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Warn("shutdown error", zap.Error(err))
		}
	}
	w.logger.Info("stopped")
	return nil
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>fieldnote</title>
<style>
body { font-family: sans-serif; max-width: 720px; margin: 2em auto; }
#log { white-space: pre-wrap; border: 1px solid #ccc; padding: 1em; min-height: 300px; }
</style>
</head>
<body>
<h1>fieldnote</h1>
<div id="log"></div>
<form id="f"><input id="t" size="60" autocomplete="off"> <button>Send</button></form>
<p><input type="file" id="a" accept="audio/*"></p>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => { log.textContent += JSON.parse(e.data).content + "\n\n"; };
document.getElementById("f").onsubmit = (e) => {
  e.preventDefault();
  const t = document.getElementById("t");
  if (!t.value) return;
  log.textContent += "> " + t.value + "\n";
  ws.send(JSON.stringify({type: "message", content: t.value}));
  t.value = "";
};
document.getElementById("a").onchange = (e) => {
  const file = e.target.files[0];
  if (!file) return;
  const r = new FileReader();
  r.onload = () => {
    ws.send(JSON.stringify({type: "audio", data: r.result.split(",")[1], mimeType: file.type}));
    log.textContent += "> [audio " + file.name + "]\n";
  };
  r.readAsDataURL(file);
  e.target.value = "";
};
</script>
</body>
</html>
`
