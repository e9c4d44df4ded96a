package controller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"chain-viewer/internal/model"
	"chain-viewer/internal/transport"
	appErr "chain-viewer/pkg/errors"
	"chain-viewer/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// User-visible log lines, matching the backend's phrasing.
const (
	logGameStarted = "ゲームを開始しました"
	logGameReset   = "ゲームをリセットしました"
	logAdvancing   = "ターンを進めます"
	logGameEnded   = "ゲームが終了しました"
	logAutoStarted = "自動プレイを開始しました"
	logAutoStopped = "自動プレイを停止しました"
)

// Recorder persists the final snapshot of a finished session.
type Recorder interface {
	RecordSession(ctx context.Context, sessionID string, final *model.GameState) error
}

type Options struct {
	AnimationWindow time.Duration
	DefaultSpeed    float64 // seconds between auto-play turns
	MinSpeed        float64
	MaxSpeed        float64
}

func (o Options) withDefaults() Options {
	if o.AnimationWindow <= 0 {
		o.AnimationWindow = 400 * time.Millisecond
	}
	if o.DefaultSpeed <= 0 {
		o.DefaultSpeed = 1.5
	}
	if o.MinSpeed <= 0 {
		o.MinSpeed = 0.1
	}
	if o.MaxSpeed <= 0 {
		o.MaxSpeed = 3.0
	}
	return o
}

// Controller orchestrates turn advancement against the animation lock.
//
// All state lives behind one mutex; every handler (command, backend event,
// timer callback) runs to completion under it, which is what keeps the
// snapshot, the animation window and the pending slot mutually consistent.
type Controller struct {
	transport transport.Transport
	recorder  Recorder
	opts      Options

	mu         sync.Mutex
	state      *model.GameState
	logEntries []model.LogEntry
	lastAction string
	lastErr    string

	anim       model.AnimationState
	animTimer  *time.Timer
	pending    string
	pendingSet bool
	animCycles int64

	autoPlay  bool
	autoTimer *time.Timer
	speed     float64
	useRandom bool

	advancing      int
	loading        bool
	terminalSeen   bool
	terminalLogDue bool
	sessionID      string
	closed         bool
}

func New(tr transport.Transport, rec Recorder, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		transport: tr,
		recorder:  rec,
		opts:      opts,
		speed:     opts.DefaultSpeed,
		anim:      model.AnimationState{SourceSlot: -1, TargetSlot: -1},
	}
	tr.AddListener(c.handleEvent)
	return c
}

// Start requests a fresh game. The action log is reset to a single seed
// entry; the new snapshot arrives as a gameState event.
func (c *Controller) Start() error {
	return c.begin("start", logGameStarted)
}

// Reset behaves as Start with its own seed line.
func (c *Controller) Reset() error {
	return c.begin("reset", logGameReset)
}

func (c *Controller) begin(command, seed string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	c.stopAutoPlayLocked()
	c.cancelAnimLocked()
	c.pending = ""
	c.pendingSet = false
	c.advancing = 0
	c.state = nil
	c.terminalSeen = false
	c.terminalLogDue = false
	c.lastAction = ""
	c.lastErr = ""
	c.sessionID = uuid.NewString()
	c.logEntries = nil
	c.appendLogLocked(seed)

	c.loading = true
	if err := c.transport.SendCommand(command); err != nil {
		c.loading = false
		c.failLocked("ゲームを開始できませんでした", err)
		return err
	}
	return nil
}

// NextTurn advances the game by one turn. It is a silent no-op while an
// animation is active, when no game is loaded, when the game is terminal,
// or when the in-flight cap is reached. Reports whether a turn-advance
// request was actually issued.
func (c *Controller) NextTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	return c.nextTurnLocked()
}

func (c *Controller) nextTurnLocked() bool {
	if c.state == nil || c.state.Terminal() || c.anim.Active {
		return false
	}
	// at most the current advance plus one follow-up may be outstanding
	if c.advancing >= 2 {
		return false
	}

	c.appendLogLocked(logAdvancing)
	if err := c.transport.SendCommand("next"); err != nil {
		c.failLocked("ターンを進められませんでした", err)
		return false
	}
	c.advancing++
	return true
}

// StartAutoPlay turns the auto-play overlay on and immediately triggers one
// turn. Rejected when no game is loaded or the game is over.
func (c *Controller) StartAutoPlay() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.state == nil {
		return appErr.ErrNoGame
	}
	if c.state.Terminal() {
		return appErr.ErrGameOver
	}
	if c.autoPlay {
		return appErr.ErrAutoPlayActive
	}

	c.autoPlay = true
	c.appendLogLocked(logAutoStarted)
	c.forwardLocked("auto:start")
	if !c.nextTurnLocked() {
		c.scheduleAutoLocked()
	}
	return nil
}

func (c *Controller) StopAutoPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoPlay {
		return
	}
	c.stopAutoPlayLocked()
	c.appendLogLocked(logAutoStopped)
	c.forwardLocked("auto:stop")
}

func (c *Controller) stopAutoPlayLocked() {
	c.autoPlay = false
	c.cancelAutoLocked()
}

func (c *Controller) scheduleAutoLocked() {
	c.cancelAutoLocked()
	delay := time.Duration(c.speed * float64(time.Second))
	c.autoTimer = time.AfterFunc(delay, c.onAutoTick)
}

func (c *Controller) onAutoTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoTimer = nil

	if c.closed || !c.autoPlay {
		return
	}
	if c.state == nil || c.state.Terminal() {
		c.autoPlay = false
		return
	}
	if c.advancing > 0 || !c.nextTurnLocked() {
		// animation lock held or previous advance still in flight; keep the
		// cadence and try again after the interval
		c.scheduleAutoLocked()
	}
}

func (c *Controller) cancelAutoLocked() {
	if c.autoTimer != nil {
		c.autoTimer.Stop()
		c.autoTimer = nil
	}
}

// SetSpeed applies a new auto-play cadence, clamped to the configured range.
// Takes effect on the next scheduled turn, not retroactively.
func (c *Controller) SetSpeed(value float64) (float64, error) {
	if math.IsNaN(value) || value <= 0 {
		return 0, appErr.ErrBadSpeed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	clamped := value
	if clamped < c.opts.MinSpeed {
		clamped = c.opts.MinSpeed
	}
	if clamped > c.opts.MaxSpeed {
		clamped = c.opts.MaxSpeed
	}
	c.speed = clamped
	c.appendLogLocked(fmt.Sprintf("自動プレイ速度を%.1f秒に設定しました", clamped))
	c.forwardLocked(fmt.Sprintf("speed:%.1f", clamped))
	return clamped, nil
}

// ToggleRandom flips the decision source between the learned policy and
// random choice. Returns the new mode.
func (c *Controller) ToggleRandom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useRandom = !c.useRandom
	mode := "無効"
	if c.useRandom {
		mode = "有効"
	}
	c.appendLogLocked(fmt.Sprintf("ランダムアクションモードを%sにしました", mode))
	c.forwardLocked("random")
	return c.useRandom
}

// forwardLocked sends an out-of-band command. Failure is logged and
// swallowed: mode and speed changes only matter on the next turn.
func (c *Controller) forwardLocked(command string) {
	if err := c.transport.SendCommand(command); err != nil {
		logger.Log.Warn("out-of-band command not delivered",
			zap.String("command", command), zap.Error(err))
	}
}

// Close cancels every outstanding timer so no callback fires against a
// discarded controller.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopAutoPlayLocked()
	c.cancelAnimLocked()
	c.pendingSet = false
}

func (c *Controller) handleEvent(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch ev.Type {
	case transport.EventConnect:
		c.flushTerminalLocked()
		logger.Log.Info("backend connected")
	case transport.EventDisconnect:
		c.flushTerminalLocked()
		c.handleDisconnectLocked(ev.Reason)
	case transport.EventError:
		c.flushTerminalLocked()
		if c.advancing > 0 {
			c.advancing--
		}
		c.loading = false
		c.lastErr = ev.Message
		c.appendLogLocked("エラー: " + ev.Message)
	case transport.EventGameState:
		c.flushTerminalLocked()
		c.handleGameStateLocked(ev.State)
	case transport.EventAction:
		c.lastAction = ev.Action
		c.appendLogLocked(ev.Action)
		c.admitAnimationLocked(ev.Action)
	case transport.EventReward:
		c.handleRewardLocked(ev.Reward)
	}
}

func (c *Controller) handleGameStateLocked(s *model.GameState) {
	if s == nil {
		return
	}
	c.state = s.Clone()
	if c.advancing > 0 {
		c.advancing--
	}
	c.loading = false
	c.lastErr = ""

	if c.state.Terminal() {
		if !c.terminalSeen {
			c.terminalSeen = true
			// the closing action and reward lines are still inbound for this
			// turn; the termination line goes after them
			c.terminalLogDue = true
			c.stopAutoPlayLocked()
			c.recordSessionLocked()
		}
		return
	}
	if c.autoPlay {
		c.scheduleAutoLocked()
	}
}

func (c *Controller) handleRewardLocked(reward float64) {
	if reward != 0 {
		if reward > 0 && c.state != nil && classify(c.lastAction).Kind == model.AnimClear {
			c.appendLogLocked(fmt.Sprintf("フルチェイン達成！ 通算%d回目", c.state.FullChainCount))
		}
		c.appendLogLocked(fmt.Sprintf("報酬: %+.1f", reward))
	}
	c.flushTerminalLocked()
}

// flushTerminalLocked appends the deferred termination line once the
// terminal turn's trailing events have been logged.
func (c *Controller) flushTerminalLocked() {
	if !c.terminalLogDue {
		return
	}
	c.terminalLogDue = false
	c.appendLogLocked(logGameEnded)
}

func (c *Controller) handleDisconnectLocked(reason string) {
	c.appendLogLocked("サーバーから切断されました: " + reason)
	c.stopAutoPlayLocked()
	c.cancelAnimLocked()
	c.pending = ""
	c.pendingSet = false
	c.advancing = 0
	c.loading = false
	c.state = nil
}

func (c *Controller) recordSessionLocked() {
	if c.recorder == nil {
		return
	}
	final := c.state.Clone()
	sessionID := c.sessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordSession(ctx, sessionID, final); err != nil {
			logger.Log.Error("failed to record session",
				zap.String("sessionID", sessionID), zap.Error(err))
		}
	}()
}

func (c *Controller) failLocked(prefix string, err error) {
	c.lastErr = err.Error()
	c.appendLogLocked(fmt.Sprintf("%s: %v", prefix, err))
	logger.Log.Error(prefix, zap.Error(err))
}

func (c *Controller) appendLogLocked(content string) {
	c.logEntries = append(c.logEntries, model.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Content:   content,
	})
}

// Snapshot is the read-only view the presentation layer consumes.
type Snapshot struct {
	GameState *model.GameState     `json:"gameState"`
	Animation model.AnimationState `json:"animation"`
	Connected bool                 `json:"connected"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error"`
	AutoPlay  bool                 `json:"autoPlay"`
	Speed     float64              `json:"speed"`
	UseRandom bool                 `json:"useRandom"`
	Advancing bool                 `json:"advancing"`
	SessionID string               `json:"sessionId"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		GameState: c.state.Clone(),
		Animation: c.anim,
		Connected: c.transport.Connected(),
		Loading:   c.loading,
		Error:     c.lastErr,
		AutoPlay:  c.autoPlay,
		Speed:     c.speed,
		UseRandom: c.useRandom,
		Advancing: c.advancing > 0,
		SessionID: c.sessionID,
	}
}

func (c *Controller) Log() []model.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.LogEntry(nil), c.logEntries...)
}
