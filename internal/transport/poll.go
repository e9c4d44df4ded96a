package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"chain-viewer/internal/model"
	appErr "chain-viewer/pkg/errors"
	"chain-viewer/pkg/logger"

	"go.uber.org/zap"
)

const pollRequestTimeout = 10 * time.Second

// resetResponse is the reset call's payload: a fresh observation plus the
// backend's auxiliary info map.
type resetResponse struct {
	Obs  model.GameState        `json:"obs"`
	Info map[string]interface{} `json:"info"`
}

// stepResponse carries the whole turn result in one round trip. The backend
// is authoritative: the client never echoes state back, so the request body
// only selects the decision source.
type stepRequest struct {
	UseRandom bool `json:"useRandom"`
}

type stepResponse struct {
	Obs        model.GameState        `json:"obs"`
	Info       map[string]interface{} `json:"info"`
	Action     int                    `json:"action"`
	ActionDesc string                 `json:"actionDesc"`
	Reward     float64                `json:"reward"`
	Terminated bool                   `json:"terminated"`
	Truncated  bool                   `json:"truncated"`
}

// PollTransport is the request/response realization. It speaks the same
// Transport contract as the push channel: commands go in, Events come out.
// The combined step tuple is split into gameState, action, reward events in
// that order, so listeners cannot tell the two realizations apart.
type PollTransport struct {
	Emitter

	baseURL string
	client  *http.Client

	mu        sync.Mutex
	connected bool
	useRandom bool
}

func NewPoll(baseURL string) *PollTransport {
	return &PollTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: pollRequestTimeout},
	}
}

// Connect probes the backend once and marks the caller session live. The
// realization is stateless on the wire, so there is no channel to keep open.
func (t *PollTransport) Connect() error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	resp, err := t.client.Get(t.baseURL + "/ping")
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrNotConnected, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend returned %d", appErr.ErrNotConnected, resp.StatusCode)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.Emit(Event{Type: EventConnect})
	return nil
}

func (t *PollTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	t.mu.Unlock()

	t.Emit(Event{Type: EventDisconnect, Reason: "client disconnect"})
	return nil
}

func (t *PollTransport) Reconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return t.Connect()
}

func (t *PollTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SendCommand validates the session synchronously, then performs the call in
// the background; results and failures come back as events, matching the
// push channel's delivery shape.
func (t *PollTransport) SendCommand(command string) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		logger.Log.Error("command dropped, not connected", zap.String("command", command))
		return appErr.ErrNotConnected
	}

	switch {
	case command == "start" || command == "reset":
		go t.performReset()
	case command == "next":
		go t.performStep()
	case command == "random":
		t.mu.Lock()
		t.useRandom = !t.useRandom
		t.mu.Unlock()
	case command == "auto:start" || command == "auto:stop" || strings.HasPrefix(command, "speed:"):
		// auto-play pacing lives on the viewer side; nothing to forward
	default:
		logger.Log.Warn("unsupported command", zap.String("command", command))
	}
	return nil
}

func (t *PollTransport) performReset() {
	ctx, cancel := context.WithTimeout(context.Background(), pollRequestTimeout)
	defer cancel()

	var body resetResponse
	if err := t.postJSON(ctx, "/reset", nil, &body); err != nil {
		logger.Log.Error("reset call failed", zap.Error(err))
		t.Emit(Event{Type: EventError, Message: fmt.Sprintf("reset failed: %v", err)})
		return
	}
	t.Emit(Event{Type: EventGameState, State: body.Obs.Clone()})
}

func (t *PollTransport) performStep() {
	t.mu.Lock()
	req := stepRequest{UseRandom: t.useRandom}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pollRequestTimeout)
	defer cancel()

	var body stepResponse
	if err := t.postJSON(ctx, "/step", req, &body); err != nil {
		logger.Log.Error("step call failed", zap.Error(err))
		t.Emit(Event{Type: EventError, Message: fmt.Sprintf("turn advance failed: %v", err)})
		return
	}

	state := body.Obs.Clone()
	state.Terminated = state.Terminated || body.Terminated
	state.Truncated = state.Truncated || body.Truncated

	// state strictly before action: animations must never run against a
	// stale snapshot. The reward event always closes the turn, even at zero.
	t.Emit(Event{Type: EventGameState, State: state})
	t.Emit(Event{Type: EventAction, Action: body.ActionDesc})
	t.Emit(Event{Type: EventReward, Reward: body.Reward})
}

func (t *PollTransport) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	var reqBody bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&reqBody).Encode(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, &reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend returned %d", appErr.ErrRequestFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrRequestFailed, err)
	}
	return nil
}
