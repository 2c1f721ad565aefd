package controller

import (
	"context"
	"time"

	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/sink"
)

// countsAsActivity reports whether frameType resets the idle timer and
// (the first time) disarms the first-event timer, per spec.md §4.7: only
// genuine handler-driven bubble frames count. started/meta/progress are
// the controller's own preamble, emitted before a handler runs at all, so
// counting them would make the first-event timeout unreachable; heartbeat
// is emitted by runTimers' own heartbeat ticker and must not reset the
// idle/first-event timers.
func countsAsActivity(frameType string) bool {
	switch frameType {
	case bubble.FrameConfig, bubble.FrameSet, bubble.FrameDelta, bubble.FrameDone:
		return true
	default:
		return false
	}
}

// runTimers owns the first-event, idle, and heartbeat timers for one
// stream in a single select loop (spec.md §9: "heartbeat/idle timers can
// share one task that reads a small internal control channel"). It
// returns once ctx is cancelled (the handler finished, or an external
// cancel/disconnect fired) or once a timeout expires. timedOut is true
// only in the latter case, with reason one of "first_event_timeout" or
// "idle_timeout".
func runTimers(ctx context.Context, sk *sink.Sink, activity <-chan string, firstEvent, idle, heartbeat time.Duration) (reason string, timedOut bool) {
	firstEventTimer := time.NewTimer(firstEvent)
	idleTimer := time.NewTimer(idle)
	heartbeatTicker := time.NewTicker(heartbeat)
	defer firstEventTimer.Stop()
	defer idleTimer.Stop()
	defer heartbeatTicker.Stop()

	firstEventSeen := false

	for {
		select {
		case <-ctx.Done():
			return "", false

		case frameType := <-activity:
			if !countsAsActivity(frameType) {
				continue
			}
			if !firstEventSeen {
				firstEventSeen = true
				stopTimer(firstEventTimer)
			}
			stopTimer(idleTimer)
			idleTimer.Reset(idle)

		case <-heartbeatTicker.C:
			sk.Emit(&HeartbeatFrame{Type: "heartbeat"})

		case <-firstEventTimer.C:
			return "first_event_timeout", true

		case <-idleTimer.C:
			return "idle_timeout", true
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
