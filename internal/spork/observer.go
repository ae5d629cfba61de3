package spork

import "time"

// Event describes one completed dispatch, as seen by the parent.
type Event struct {
	ID       string        `json:"id"`
	Pattern  Pattern       `json:"pattern"`
	Strategy Strategy      `json:"strategy"`
	PID      int           `json:"pid"`
	Target   string        `json:"target,omitempty"`
	Changes  int           `json:"changes"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
	Err      error         `json:"-"`
}

// Failed reports whether the dispatch returned an error.
func (e Event) Failed() bool { return e.Err != nil }

// ErrorKind returns the classified kind of the failure, if any.
func (e Event) ErrorKind() string {
	if e.Err == nil {
		return ""
	}
	return KindOf(e.Err).String()
}

// Observer receives dispatch events. Implementations must be safe for
// concurrent use because dispatches may run on many goroutines.
type Observer interface {
	ObserveDispatch(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) ObserveDispatch(ev Event) { f(ev) }

// Observers fans an event out to each member in order.
type Observers []Observer

func (o Observers) ObserveDispatch(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveDispatch(ev)
		}
	}
}

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})
