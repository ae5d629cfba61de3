// Package transport provides the private, single-use channel that carries a
// serialized payload from the dispatcher to the loader.
//
// The channel is created readable and writable by the owner only. The
// loader receives it as an inherited descriptor, so the backing name can be
// removed as soon as the loader has been started regardless of how far the
// loader has got.
package transport

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Kind selects the backing store.
type Kind string

const (
	// KindFile is an owner-only temporary file.
	KindFile Kind = "file"
	// KindMemfd is an anonymous memory file (Linux only).
	KindMemfd Kind = "memfd"
)

// ParseKind accepts "file", "memfd" or "" (file).
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindFile:
		return KindFile, nil
	case KindMemfd:
		return KindMemfd, nil
	}
	return "", fmt.Errorf("unknown transport %q (want file or memfd)", s)
}

// InheritedFD is the descriptor number the loader sees the channel on.
const InheritedFD = 3

// ID is the loader argument naming the inherited channel.
func ID() string { return fmt.Sprintf("fd:%d", InheritedFD) }

// Channel is one open transport.
type Channel struct {
	f    *os.File
	kind Kind
	name string
}

// Open creates a new channel. dir is only used by KindFile; empty means the
// system temporary directory.
func Open(kind Kind, dir string) (*Channel, error) {
	switch kind {
	case "", KindFile:
		f, err := os.CreateTemp(dir, "spork-primer-*")
		if err != nil {
			return nil, fmt.Errorf("create transport file: %w", err)
		}
		if err := f.Chmod(0o600); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return nil, fmt.Errorf("restrict transport file: %w", err)
		}
		return &Channel{f: f, kind: KindFile, name: f.Name()}, nil
	case KindMemfd:
		f, err := openMemfd("spork-primer")
		if err != nil {
			return nil, fmt.Errorf("create memfd transport: %w", err)
		}
		return &Channel{f: f, kind: KindMemfd}, nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", kind)
}

// Writer is where the payload goes.
func (c *Channel) Writer() io.Writer { return c.f }

// File is the descriptor to hand to the loader.
func (c *Channel) File() *os.File { return c.f }

// Kind reports the backing store.
func (c *Channel) Kind() Kind { return c.kind }

// Name is the filesystem path of a KindFile channel, or "" for memfd.
func (c *Channel) Name() string { return c.name }

// Rewind positions the channel at its start so the reader sees the whole
// payload through the shared file offset.
func (c *Channel) Rewind() error {
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind transport: %w", err)
	}
	return nil
}

// Close releases the parent's descriptor and removes the backing name. It
// is safe to call more than once.
func (c *Channel) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	if c.name != "" {
		if rmErr := os.Remove(c.name); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}
