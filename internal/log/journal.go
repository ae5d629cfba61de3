package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

var journalAvailable = journal.Enabled

// journalHandler writes records as structured journal entries. Attribute
// keys become upper-case journal fields.
type journalHandler struct {
	level  slog.Leveler
	prefix string
	attrs  map[string]string
	send   func(msg string, pri journal.Priority, vars map[string]string) error
}

func newJournalHandler(level slog.Leveler) *journalHandler {
	return &journalHandler{level: level, attrs: map[string]string{}, send: journal.Send}
}

func (h *journalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.attrs)+r.NumAttrs()+1)
	for k, v := range h.attrs {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		h.addAttr(fields, h.prefix, a)
		return true
	})
	fields["SPORK_LEVEL"] = r.Level.String()
	return h.send(r.Message, priority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := h.clone()
	for _, a := range attrs {
		n.addAttr(n.attrs, n.prefix, a)
	}
	return n
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := h.clone()
	n.prefix = h.prefix + name + "_"
	return n
}

func (h *journalHandler) clone() *journalHandler {
	attrs := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &journalHandler{level: h.level, prefix: h.prefix, attrs: attrs, send: h.send}
}

func (h *journalHandler) addAttr(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "_"
		}
		for _, ga := range v.Group() {
			h.addAttr(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[fieldName(prefix+a.Key)] = fmt.Sprint(v.Any())
}

// fieldName maps a slog key onto the journal's [A-Z0-9_] field alphabet.
// Leading underscores are reserved for trusted fields.
func fieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := strings.TrimLeft(b.String(), "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "F_" + s
	}
	return s
}

func priority(l slog.Level) journal.Priority {
	switch {
	case l >= slog.LevelError:
		return journal.PriErr
	case l >= slog.LevelWarn:
		return journal.PriWarning
	case l >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
