package transport

import (
	"sync"

	"chain-viewer/internal/model"
	"chain-viewer/pkg/logger"

	"go.uber.org/zap"
)

// EventType identifies a backend notification delivered to listeners.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventError      EventType = "error"
	EventGameState  EventType = "gameState"
	EventAction     EventType = "action"
	EventReward     EventType = "reward"
)

// Event is the normalized notification both transport realizations produce.
// The push channel maps wire frames onto it one-to-one; the poll realization
// splits its combined step response into the same sequence.
type Event struct {
	Type    EventType
	Reason  string           // disconnect
	Message string           // error
	State   *model.GameState // gameState (terminal flags included)
	Action  string           // action description
	Reward  float64          // reward
}

type Listener func(Event)

// Transport is the abstract bidirectional channel to the decision backend.
// Commands go out as opaque strings; results come back as Events.
type Transport interface {
	Connect() error
	Disconnect() error
	Reconnect() error
	SendCommand(command string) error
	AddListener(fn Listener)
	Connected() bool
}

// Emitter fans events out to listeners synchronously, in registration order.
// Dispatch runs over a snapshot of the listener set, so listeners may be
// added during delivery without affecting the in-flight notification.
type Emitter struct {
	mu        sync.Mutex
	listeners []Listener
}

func (e *Emitter) AddListener(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	snapshot := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, fn := range snapshot {
		dispatch(fn, ev)
	}
}

// dispatch isolates listener faults: a panicking listener is logged and must
// not prevent delivery to the listeners registered after it.
func dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("event listener panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ev)
}
