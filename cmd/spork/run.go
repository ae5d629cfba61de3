package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/dispatch"
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/log"
	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/spork"
	"github.com/mattjoyce/spork/internal/storage"
)

// runOptions are the pre-exec changes requested on the command line. They
// are applied in a fixed order: signals, descriptor closes, dups, env,
// chdir, then gid before uid so a privilege drop still works.
type runOptions struct {
	closeFDs   []int
	dupFDs     []string
	setEnv     []string
	chdir      string
	ignoreSigs []string
	blockSigs  []string
	defaultSig []string
	uid        int
	gid        int
}

type runReport struct {
	Strategy string        `json:"strategy"`
	PID      int           `json:"pid"`
	ExitCode int           `json:"exit_code"`
	Dispatch time.Duration `json:"dispatch_ns"`
	Wall     time.Duration `json:"wall_ns"`
}

func runRun(args []string) int {
	fs := newFlagSet("run")
	configPath := fs.String("config", "", "Path to configuration file")
	patternName := fs.String("pattern", "auto", "Intent: auto, fork-exec, worker, snapshot")
	jsonOut := fs.Bool("json", false, "Report as JSON on stderr")
	var o runOptions
	fs.IntSliceVar(&o.closeFDs, "close-fd", nil, "Close descriptor N in the child (repeatable)")
	fs.StringArrayVar(&o.dupFDs, "dup-fd", nil, "Duplicate OLD:NEW in the child (repeatable)")
	fs.StringArrayVar(&o.setEnv, "setenv", nil, "Set KEY=VALUE in the child (repeatable)")
	fs.StringVar(&o.chdir, "chdir", "", "Change the child's working directory")
	fs.StringArrayVar(&o.ignoreSigs, "ignore-signal", nil, "Ignore signal (name or number) in the child")
	fs.StringArrayVar(&o.blockSigs, "block-signal", nil, "Block signal in the child")
	fs.StringArrayVar(&o.defaultSig, "default-signal", nil, "Restore default disposition in the child")
	fs.IntVar(&o.uid, "uid", -1, "Set the child's user id")
	fs.IntVar(&o.gid, "gid", -1, "Set the child's group id")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: spork run [flags] [-- PROG [ARGS...]]")
		fmt.Fprintln(os.Stderr, "Without PROG the dispatch duplicates spork itself and the child exits at once.")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	pattern, err := spork.ParsePattern(*patternName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	changes, err := buildChanges(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	h := spork.Hints{Pattern: pattern, Changes: changes}
	if argv := fs.Args(); len(argv) > 0 {
		h.Target = &spork.ExecTarget{Path: resolveProgram(argv[0]), Argv: argv}
	} else if len(changes) > 0 {
		fmt.Fprintln(os.Stderr, "Error: state changes need a program to exec")
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)

	stats := metrics.NewStats()
	observers := []spork.Observer{stats}
	if cfg.Ledger.Enabled {
		db, err := storage.OpenSQLite(context.Background(), cfg.Ledger.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
			return 1
		}
		defer db.Close()
		observers = append(observers, ledger.New(db, log.WithComponent("ledger")))
	}

	d := dispatch.NewNative(cfg.Dispatcher, nil, log.Get(), dispatch.WithObserver(observers...))

	start := time.Now()
	res, err := d.Dispatch(context.Background(), h)
	if err == nil && res.InChild {
		unix.Exit(0)
	}
	took := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed (%s): %v\n", spork.KindOf(err), err)
		return 1
	}

	ws, err := spork.Wait(res.PID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Wait failed: %v\n", err)
		return 1
	}

	rep := runReport{
		Strategy: res.Strategy.String(),
		PID:      res.PID,
		ExitCode: spork.ExitCode(ws),
		Dispatch: took,
		Wall:     time.Since(start),
	}
	if *jsonOut {
		_ = json.NewEncoder(os.Stderr).Encode(rep)
	} else {
		fmt.Fprintf(os.Stderr, "spork: strategy=%s pid=%d exit=%d dispatch=%s wall=%s\n",
			rep.Strategy, rep.PID, rep.ExitCode, rep.Dispatch.Round(time.Microsecond), rep.Wall.Round(time.Microsecond))
	}
	return rep.ExitCode
}

// resolveProgram looks bare names up on $PATH; exec does not. A name that
// cannot be found is passed through so the spawn reports the error.
func resolveProgram(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

func buildChanges(o runOptions) ([]protocol.StateChange, error) {
	var out []protocol.StateChange

	sigs := []struct {
		names []string
		disp  protocol.Disposition
	}{
		{o.ignoreSigs, protocol.DispositionIgnore},
		{o.blockSigs, protocol.DispositionBlock},
		{o.defaultSig, protocol.DispositionDefault},
	}
	for _, group := range sigs {
		for _, name := range group.names {
			sig, err := parseSignal(name)
			if err != nil {
				return nil, err
			}
			out = append(out, protocol.Signal(sig, group.disp))
		}
	}

	for _, fd := range o.closeFDs {
		out = append(out, protocol.CloseFD(fd))
	}
	for _, spec := range o.dupFDs {
		oldS, newS, ok := strings.Cut(spec, ":")
		oldFD, err1 := strconv.Atoi(oldS)
		newFD, err2 := strconv.Atoi(newS)
		if !ok || err1 != nil || err2 != nil {
			return nil, fmt.Errorf("--dup-fd %q: want OLD:NEW", spec)
		}
		out = append(out, protocol.DupFD(oldFD, newFD))
	}
	for _, kv := range o.setEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--setenv %q: want KEY=VALUE", kv)
		}
		out = append(out, protocol.SetEnv(k, v))
	}
	if o.chdir != "" {
		out = append(out, protocol.Chdir(o.chdir))
	}
	if o.gid >= 0 {
		out = append(out, protocol.SetGID(uint32(o.gid)))
	}
	if o.uid >= 0 {
		out = append(out, protocol.SetUID(uint32(o.uid)))
	}

	for _, c := range out {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// parseSignal accepts 15, TERM, SIGTERM or sigterm.
func parseSignal(s string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n >= 65 {
			return 0, fmt.Errorf("signal %d out of range", n)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}
