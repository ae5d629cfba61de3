package events

import (
	"github.com/mattjoyce/spork/internal/spork"
)

// DispatchPayload is the data of dispatch.* events.
type DispatchPayload struct {
	DispatchID string `json:"dispatch_id"`
	Pattern    string `json:"pattern"`
	Strategy   string `json:"strategy"`
	PID        int    `json:"pid"`
	Target     string `json:"target,omitempty"`
	Changes    int    `json:"changes"`
	DurationNS int64  `json:"duration_ns"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExitPayload is the data of process.exited events.
type ExitPayload struct {
	PID      int `json:"pid"`
	ExitCode int `json:"exit_code"`
}

// DispatchObserver publishes every observed dispatch to a Hub.
type DispatchObserver struct {
	hub *Hub
}

// NewDispatchObserver returns an observer bound to hub.
func NewDispatchObserver(hub *Hub) *DispatchObserver {
	return &DispatchObserver{hub: hub}
}

// ObserveDispatch implements spork.Observer.
func (o *DispatchObserver) ObserveDispatch(ev spork.Event) {
	p := DispatchPayload{
		DispatchID: ev.ID,
		Pattern:    ev.Pattern.String(),
		Strategy:   ev.Strategy.String(),
		PID:        ev.PID,
		Target:     ev.Target,
		Changes:    ev.Changes,
		DurationNS: int64(ev.Duration),
	}
	typ := TypeDispatchCompleted
	if ev.Err != nil {
		typ = TypeDispatchFailed
		p.ErrorKind = ev.ErrorKind()
		p.Error = ev.Err.Error()
	}
	o.hub.Publish(typ, p)
}

// PublishExit announces that a dispatched child was reaped.
func (o *DispatchObserver) PublishExit(pid, code int) {
	o.hub.Publish(TypeProcessExited, ExitPayload{PID: pid, ExitCode: code})
}
