package transport_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chain-viewer/internal/transport"
	appErr "chain-viewer/pkg/errors"
)

// pollBackend fakes the request/response realization's endpoints.
type pollBackend struct {
	srv *httptest.Server

	mu         sync.Mutex
	resets     int
	steps      int
	lastRandom bool
	reward     float64
	terminated bool
}

func newPollBackend(t *testing.T) *pollBackend {
	t.Helper()
	b := &pollBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.resets++
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"obs": map[string]interface{}{
				"hand": []int{0, 1, 2, 3}, "hold": -1, "next": -1,
				"stack": []int{}, "turn": 1,
			},
			"info": map[string]interface{}{},
		})
	})
	mux.HandleFunc("/step", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UseRandom bool `json:"useRandom"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		b.steps++
		b.lastRandom = req.UseRandom
		reward := b.reward
		terminated := b.terminated
		b.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]interface{}{
			"obs": map[string]interface{}{
				"hand": []int{1, 1, 2, 3}, "hold": -1, "next": -1,
				"stack": []int{2}, "turn": 2,
			},
			"info":       map[string]interface{}{},
			"action":     0,
			"actionDesc": "手札の1番目のカード(2)をプレイ",
			"reward":     reward,
			"terminated": terminated,
			"truncated":  false,
		})
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func connectedPoll(t *testing.T, b *pollBackend) (*transport.PollTransport, <-chan transport.Event) {
	t.Helper()
	tr := transport.NewPoll(b.srv.URL)
	events := collectEvents(tr)
	if err := tr.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, events, transport.EventConnect)
	return tr, events
}

func TestPollSendRequiresConnect(t *testing.T) {
	backend := newPollBackend(t)
	tr := transport.NewPoll(backend.srv.URL)

	if err := tr.SendCommand("next"); !errors.Is(err, appErr.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPollResetEmitsGameState(t *testing.T) {
	backend := newPollBackend(t)
	tr, events := connectedPoll(t, backend)

	if err := tr.SendCommand("start"); err != nil {
		t.Fatalf("send start: %v", err)
	}

	ev := waitFor(t, events, transport.EventGameState)
	if ev.State == nil || ev.State.Turn != 1 || len(ev.State.Hand) != 4 {
		t.Fatalf("unexpected state from reset: %+v", ev.State)
	}
}

func TestPollStepSynthesizesOrderedEvents(t *testing.T) {
	backend := newPollBackend(t)
	backend.reward = 1000
	tr, events := connectedPoll(t, backend)

	if err := tr.SendCommand("next"); err != nil {
		t.Fatalf("send next: %v", err)
	}

	var got []transport.EventType
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("timed out, events so far: %v", got)
		}
	}

	want := []transport.EventType{transport.EventGameState, transport.EventAction, transport.EventReward}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (state must precede its action)", i, got[i], want[i])
		}
	}
}

func TestPollRewardEventClosesEveryTurn(t *testing.T) {
	backend := newPollBackend(t)
	tr, events := connectedPoll(t, backend)

	if err := tr.SendCommand("next"); err != nil {
		t.Fatalf("send next: %v", err)
	}
	waitFor(t, events, transport.EventAction)

	ev := waitFor(t, events, transport.EventReward)
	if ev.Reward != 0 {
		t.Fatalf("expected the zero reward on the closing event, got %v", ev.Reward)
	}
}

func TestPollStepCarriesTerminalFlags(t *testing.T) {
	backend := newPollBackend(t)
	backend.terminated = true
	tr, events := connectedPoll(t, backend)

	if err := tr.SendCommand("next"); err != nil {
		t.Fatalf("send next: %v", err)
	}
	ev := waitFor(t, events, transport.EventGameState)
	if ev.State == nil || !ev.State.Terminated {
		t.Fatalf("terminal flag lost in normalization: %+v", ev.State)
	}
}

func TestPollRandomToggleAppliesToNextStep(t *testing.T) {
	backend := newPollBackend(t)
	tr, events := connectedPoll(t, backend)

	if err := tr.SendCommand("random"); err != nil {
		t.Fatalf("send random: %v", err)
	}
	if err := tr.SendCommand("next"); err != nil {
		t.Fatalf("send next: %v", err)
	}
	waitFor(t, events, transport.EventGameState)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.lastRandom {
		t.Fatal("backend should see useRandom=true after toggle")
	}
}

func TestPollRequestFailureBecomesErrorEvent(t *testing.T) {
	backend := newPollBackend(t)
	tr, events := connectedPoll(t, backend)
	backend.srv.Close()

	if err := tr.SendCommand("next"); err != nil {
		t.Fatalf("send should dispatch despite the dead backend, got %v", err)
	}

	ev := waitFor(t, events, transport.EventError)
	if ev.Message == "" {
		t.Fatal("error event should carry a message")
	}
}
