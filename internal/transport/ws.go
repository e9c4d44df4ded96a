package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chain-viewer/internal/model"
	appErr "chain-viewer/pkg/errors"
	"chain-viewer/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit    = 1 << 20
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingEvery    = 25 * time.Second
)

// wireFrame is the envelope the backend pushes over the websocket.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type commandFrame struct {
	Command string `json:"command"`
}

// WSTransport is the persistent push realization: one long-lived websocket
// the backend streams gameState/action/reward frames over. On unexpected
// disconnect it schedules a single reconnection attempt after a fixed delay.
type WSTransport struct {
	Emitter

	url            string
	reconnectDelay time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	manualClose    bool
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

func NewWS(url string, reconnectDelay time.Duration) *WSTransport {
	return &WSTransport{
		url:            url,
		reconnectDelay: reconnectDelay,
	}
}

// Connect is idempotent: a second call while connected is a no-op. A pending
// reconnection attempt is cancelled either way.
func (t *WSTransport) Connect() error {
	t.mu.Lock()
	t.cancelReconnectLocked()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", appErr.ErrNotConnected, t.url, err)
	}

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	t.conn = conn
	t.connected = true
	t.manualClose = false
	t.mu.Unlock()

	logger.Log.Info("connected to backend", zap.String("url", t.url))
	go t.readLoop(conn)
	go t.pingLoop(conn)

	t.Emit(Event{Type: EventConnect})
	return nil
}

// Disconnect tears the channel down deterministically. Subsequent sends fail
// fast with ErrNotConnected instead of silently dropping.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	t.cancelReconnectLocked()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.manualClose = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	err := conn.Close()
	t.Emit(Event{Type: EventDisconnect, Reason: "client disconnect"})
	return err
}

// Reconnect re-establishes the channel in place; with no channel open it
// behaves as Connect.
func (t *WSTransport) Reconnect() error {
	t.mu.Lock()
	if t.connected && t.conn != nil {
		t.manualClose = true
		t.connected = false
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
	} else {
		t.mu.Unlock()
	}
	return t.Connect()
}

func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *WSTransport) SendCommand(command string) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		logger.Log.Error("command dropped, not connected", zap.String("command", command))
		return appErr.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(commandFrame{Command: command}); err != nil {
		logger.Log.Error("command write failed", zap.String("command", command), zap.Error(err))
		return fmt.Errorf("%w: %v", appErr.ErrRequestFailed, err)
	}
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.handleReadClosed(conn, err)
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Log.Warn("malformed frame from backend", zap.Error(err))
			t.Emit(Event{Type: EventError, Message: "malformed frame from backend"})
			continue
		}
		t.emitFrame(frame)
	}
}

func (t *WSTransport) emitFrame(frame wireFrame) {
	switch frame.Event {
	case "gameState":
		var state model.GameState
		if err := json.Unmarshal(frame.Data, &state); err != nil {
			logger.Log.Warn("malformed game state", zap.Error(err))
			t.Emit(Event{Type: EventError, Message: "malformed game state"})
			return
		}
		t.Emit(Event{Type: EventGameState, State: &state})
	case "action":
		var desc string
		if err := json.Unmarshal(frame.Data, &desc); err != nil {
			logger.Log.Warn("malformed action description", zap.Error(err))
			return
		}
		t.Emit(Event{Type: EventAction, Action: desc})
	case "reward":
		var value float64
		if err := json.Unmarshal(frame.Data, &value); err != nil {
			logger.Log.Warn("malformed reward", zap.Error(err))
			return
		}
		t.Emit(Event{Type: EventReward, Reward: value})
	case "error":
		var msg string
		_ = json.Unmarshal(frame.Data, &msg)
		t.Emit(Event{Type: EventError, Message: msg})
	default:
		logger.Log.Debug("ignoring frame", zap.String("event", frame.Event))
	}
}

// handleReadClosed runs when the read loop exits. For unexpected closes it
// emits a disconnect event and schedules the single reconnection attempt.
func (t *WSTransport) handleReadClosed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		// a newer channel replaced this one; nothing to report
		t.mu.Unlock()
		return
	}
	if t.manualClose {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.conn = nil
	t.scheduleReconnectLocked()
	t.mu.Unlock()

	logger.Log.Warn("backend connection lost", zap.Error(err))
	t.Emit(Event{Type: EventDisconnect, Reason: err.Error()})
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		current := t.conn == conn && t.connected
		t.mu.Unlock()
		if !current {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

// scheduleReconnectLocked arms the reconnection timer unless one is already
// pending. A connect (manual or otherwise) cancels it before it fires.
func (t *WSTransport) scheduleReconnectLocked() {
	if t.reconnectTimer != nil {
		return
	}
	t.reconnectTimer = time.AfterFunc(t.reconnectDelay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		t.mu.Unlock()

		if err := t.Reconnect(); err != nil {
			logger.Log.Warn("reconnect attempt failed", zap.Error(err))
			t.mu.Lock()
			t.scheduleReconnectLocked()
			t.mu.Unlock()
		}
	})
}

func (t *WSTransport) cancelReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}
