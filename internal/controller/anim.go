package controller

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"chain-viewer/internal/model"
)

// The animation lock is a single-slot gate: one active window, one optional
// pending description, one cancellable timer. Admission while the window is
// open overwrites the pending slot (latest wins); release consumes the slot
// before the lock is ever observable as free.

func (c *Controller) admitAnimationLocked(desc string) {
	if c.anim.Active {
		c.pending = desc
		c.pendingSet = true
		return
	}
	c.startAnimationLocked(desc)
}

func (c *Controller) startAnimationLocked(desc string) {
	c.anim = classify(desc)
	c.anim.Active = true
	c.animCycles++
	c.cancelAnimTimerLocked()
	c.animTimer = time.AfterFunc(c.opts.AnimationWindow, c.onAnimationDone)
}

func (c *Controller) onAnimationDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.animTimer = nil
	if c.closed {
		return
	}

	if c.pendingSet {
		desc := c.pending
		c.pending = ""
		c.pendingSet = false
		c.startAnimationLocked(desc)
		return
	}
	c.anim.Active = false
}

func (c *Controller) cancelAnimTimerLocked() {
	if c.animTimer != nil {
		c.animTimer.Stop()
		c.animTimer = nil
	}
}

func (c *Controller) cancelAnimLocked() {
	c.cancelAnimTimerLocked()
	c.anim = model.AnimationState{SourceSlot: -1, TargetSlot: -1}
}

var slotPattern = regexp.MustCompile(`(\d+)番目`)

// classify derives the transient animation from the backend's action
// phrasing. Slot references are 1-based in the text.
func classify(desc string) model.AnimationState {
	st := model.AnimationState{
		Kind:       model.AnimUnknown,
		SourceSlot: -1,
		TargetSlot: -1,
		Label:      desc,
	}

	slots := slotPattern.FindAllStringSubmatch(desc, 2)
	if len(slots) > 0 {
		if n, err := strconv.Atoi(slots[0][1]); err == nil {
			st.SourceSlot = n - 1
		}
	}
	if len(slots) > 1 {
		if n, err := strconv.Atoi(slots[1][1]); err == nil {
			st.TargetSlot = n - 1
		}
	}

	// order matters: playing from the hold slot mentions both ホールド and
	// プレイ, so プレイ is checked first
	switch {
	case strings.Contains(desc, "合成"):
		st.Kind = model.AnimMerge
	case strings.Contains(desc, "クリア"):
		st.Kind = model.AnimClear
	case strings.Contains(desc, "プレイ"):
		st.Kind = model.AnimPlay
	case strings.Contains(desc, "ホールド"):
		st.Kind = model.AnimHold
	}
	return st
}
