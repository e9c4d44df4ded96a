package model

import "time"

// GameState is the last authoritative snapshot delivered by the backend.
// It is replaced wholesale on every update and never mutated in place.
type GameState struct {
	Hand           []int   `json:"hand"`
	Hold           int     `json:"hold"` // -1: empty; only rank 0 may occupy it
	Next           int     `json:"next"` // -1: empty
	Stack          []int   `json:"stack"`
	Turn           int     `json:"turn"`
	MergesThisTurn int     `json:"mergesThisTurn"`
	Score          float64 `json:"score"`
	FullChainCount int     `json:"fullChainCount"`
	Terminated     bool    `json:"terminated"`
	Truncated      bool    `json:"truncated"`
}

// Clone returns a deep copy so presentation never aliases controller-owned slices.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Hand = append([]int(nil), s.Hand...)
	dup.Stack = append([]int(nil), s.Stack...)
	return &dup
}

// Terminal reports whether no further turn advance is permitted.
func (s *GameState) Terminal() bool {
	return s != nil && (s.Terminated || s.Truncated)
}

type AnimationKind string

const (
	AnimPlay    AnimationKind = "play"
	AnimMerge   AnimationKind = "merge"
	AnimHold    AnimationKind = "hold"
	AnimClear   AnimationKind = "clear"
	AnimUnknown AnimationKind = "unknown"
)

// AnimationState describes the visual transition derived from one action
// description. It lives for a single animation window.
type AnimationState struct {
	Kind       AnimationKind `json:"kind"`
	SourceSlot int           `json:"sourceSlot"` // hand index, -1 when not applicable
	TargetSlot int           `json:"targetSlot"` // second hand index for merges, -1 otherwise
	Label      string        `json:"label"`
	Active     bool          `json:"active"`
}

type LogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
}

// SessionRecord is the persisted result of one finished game.
type SessionRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SessionID      string `gorm:"unique;not null"`
	Score          float64
	Turns          int
	FullChainCount int
	Terminated     bool
	Truncated      bool
	EndedAt        time.Time
	CreatedAt      time.Time
}
