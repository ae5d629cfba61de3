package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire limits. The launcher and loader of one build share these.
const (
	MaxChanges   = 4096
	MaxArgs      = 65536
	MaxStringLen = 1 << 20

	maxSignal = 65
)

// ErrMalformed is wrapped by every Decode failure caused by truncated or
// invalid input.
var ErrMalformed = errors.New("malformed payload")

// order is the byte order of the private transport. Both ends always run on
// the same host.
var order = binary.NativeEndian

// Encode validates p and writes it to w in wire order: change count, each
// change (tag + payload), target path, argument count, each argument.
// Integers are fixed width; lengths (size_t) are uint64 and count the
// trailing NUL.
func Encode(w io.Writer, p *Payload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	e := &encoder{w: bufio.NewWriter(w)}
	e.int32(int32(len(p.Changes)))
	for _, c := range p.Changes {
		e.change(c)
	}
	e.str(p.Target.Path)
	e.int32(int32(len(p.Target.Argv)))
	for _, arg := range p.Target.Argv {
		e.str(arg)
	}
	if e.err != nil {
		return fmt.Errorf("write payload: %w", e.err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush payload: %w", err)
	}
	return nil
}

type encoder struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) int32(v int32) {
	order.PutUint32(e.buf[:4], uint32(v))
	e.write(e.buf[:4])
}

func (e *encoder) uint32(v uint32) {
	order.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) str(s string) {
	order.PutUint64(e.buf[:8], uint64(len(s)+1))
	e.write(e.buf[:8])
	if e.err != nil {
		return
	}
	if _, err := e.w.WriteString(s); err != nil {
		e.err = err
		return
	}
	e.err = e.w.WriteByte(0)
}

func (e *encoder) change(c StateChange) {
	e.int32(int32(c.Action))
	switch c.Action {
	case ActionSignal:
		e.int32(c.Signum)
		e.int32(int32(c.Disposition))
	case ActionCloseFD:
		e.int32(c.FD)
	case ActionDupFD:
		e.int32(c.FD)
		e.int32(c.NewFD)
	case ActionSetEnv:
		e.str(c.Name)
		e.str(c.Value)
	case ActionChdir:
		e.str(c.Path)
	case ActionSetUID, ActionSetGID:
		e.uint32(c.ID)
	}
}

// Decode reads one payload from r. It rejects short reads, unknown tags,
// out-of-range counts, strings without their terminator, and trailing bytes.
func Decode(r io.Reader) (*Payload, error) {
	d := &decoder{r: bufio.NewReader(r)}

	n := d.int32("change count")
	if d.err == nil && (n < 0 || n > MaxChanges) {
		d.fail("change count %d out of range", n)
	}

	p := &Payload{}
	if d.err == nil {
		p.Changes = make([]StateChange, 0, n)
	}
	for i := int32(0); d.err == nil && i < n; i++ {
		c := d.change(i)
		if d.err == nil {
			p.Changes = append(p.Changes, c)
		}
	}

	p.Target.Path = d.str("target path")
	if d.err == nil && p.Target.Path == "" {
		d.fail("empty target path")
	}

	argc := d.int32("argument count")
	if d.err == nil && (argc < 0 || argc > MaxArgs) {
		d.fail("argument count %d out of range", argc)
	}
	if d.err == nil {
		p.Target.Argv = make([]string, 0, argc)
	}
	for i := int32(0); d.err == nil && i < argc; i++ {
		arg := d.str(fmt.Sprintf("argv[%d]", i))
		if d.err == nil {
			p.Target.Argv = append(p.Target.Argv, arg)
		}
	}

	if d.err == nil {
		if _, err := d.r.ReadByte(); err == nil {
			d.fail("trailing bytes after argument vector")
		} else if !errors.Is(err, io.EOF) {
			d.err = fmt.Errorf("read payload tail: %w", err)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return p, nil
}

type decoder struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func (d *decoder) fail(format string, args ...any) {
	d.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func (d *decoder) read(what string, b []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.fail("short read of %s", what)
			return
		}
		d.err = fmt.Errorf("read %s: %w", what, err)
	}
}

func (d *decoder) int32(what string) int32 {
	d.read(what, d.buf[:4])
	if d.err != nil {
		return 0
	}
	return int32(order.Uint32(d.buf[:4]))
}

func (d *decoder) uint32(what string) uint32 {
	d.read(what, d.buf[:4])
	if d.err != nil {
		return 0
	}
	return order.Uint32(d.buf[:4])
}

func (d *decoder) str(what string) string {
	d.read(what+" length", d.buf[:8])
	if d.err != nil {
		return ""
	}
	n := order.Uint64(d.buf[:8])
	if n == 0 || n > MaxStringLen+1 {
		d.fail("%s length %d out of range", what, n)
		return ""
	}
	b := make([]byte, n)
	d.read(what, b)
	if d.err != nil {
		return ""
	}
	if b[n-1] != 0 {
		d.fail("%s is not NUL-terminated", what)
		return ""
	}
	s := string(b[:n-1])
	if strings.IndexByte(s, 0) >= 0 {
		d.fail("%s has an embedded NUL byte", what)
		return ""
	}
	return s
}

func (d *decoder) change(i int32) StateChange {
	what := fmt.Sprintf("change[%d]", i)
	c := StateChange{Action: Action(d.int32(what + " tag"))}
	if d.err != nil {
		return c
	}
	switch c.Action {
	case ActionNone:
	case ActionSignal:
		c.Signum = d.int32(what + " signum")
		c.Disposition = Disposition(d.int32(what + " disposition"))
	case ActionCloseFD:
		c.FD = d.int32(what + " fd")
	case ActionDupFD:
		c.FD = d.int32(what + " old fd")
		c.NewFD = d.int32(what + " new fd")
	case ActionSetEnv:
		c.Name = d.str(what + " name")
		c.Value = d.str(what + " value")
	case ActionChdir:
		c.Path = d.str(what + " path")
	case ActionSetUID, ActionSetGID:
		c.ID = d.uint32(what + " id")
	default:
		d.fail("%s: unknown action tag %d", what, int32(c.Action))
		return c
	}
	if d.err == nil {
		if err := c.Validate(); err != nil {
			d.fail("%s: %v", what, err)
		}
	}
	return c
}
