package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/mattjoyce/spork/internal/protocol"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large output cannot fill the pipe.
	outCh := make(chan []byte, 1)
	errCh := make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-outCh
	stderrBytes := <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeConfig writes a quiet config into a temp dir and points discovery
// at nothing else.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"+body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPORK_CONFIG", "")
	return path
}

func TestRunCLIRootVersionFlag(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abcdef0123456789", "2026-01-02T03:04:05Z")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"--version"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "spork 1.2.3") {
		t.Fatalf("stdout = %q, want version line", stdout)
	}
	if !strings.Contains(stdout, "commit: abcdef012345") {
		t.Fatalf("stdout = %q, want truncated commit", stdout)
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abcdef0123456789", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("unmarshal: %v (stdout=%q)", err, stdout)
	}
	if info.Version != "1.2.3" || info.Commit != "abcdef012345" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected version info: %+v", info)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"explode"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: explode") {
		t.Fatalf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "Commands:") {
		t.Fatalf("usage not printed: %q", stdout)
	}
}

func TestRunSubcommandHelpExitsZero(t *testing.T) {
	for _, cmd := range []string{"run", "serve", "stats", "history", "watch", "doctor"} {
		code, _, _ := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{cmd, "--help"})
		})
		if code != 0 {
			t.Fatalf("%s --help exit code = %d, want 0", cmd, code)
		}
	}
}

func TestRunConfigCheck(t *testing.T) {
	path := writeConfig(t, "dispatcher:\n  transport: file\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Config valid") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunConfigCheckRejectsBadTransport(t *testing.T) {
	path := writeConfig(t, "dispatcher:\n  transport: carrier-pigeon\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "dispatcher.transport") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigShowRendersYAML(t *testing.T) {
	path := writeConfig(t, "dispatcher:\n  max_changes: 12\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"show", "--config", path})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "max_changes: 12") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunConfigUnknownVerb(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"frobnicate"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown config command") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunReturnsChildExitCode(t *testing.T) {
	path := writeConfig(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--config", path, "--", "/bin/sh", "-c", "exit 3"})
	})
	if code != 3 {
		t.Fatalf("exit code = %d, want 3 (stderr=%s)", code, stderr)
	}
	if !strings.Contains(stderr, "strategy=direct-spawn") {
		t.Fatalf("stderr = %q, want direct-spawn report", stderr)
	}
}

func TestRunJSONReport(t *testing.T) {
	path := writeConfig(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--config", path, "--json", "--pattern", "fork-exec", "--", "sh", "-c", "exit 0"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, stderr)
	}
	var rep runReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(stderr)), &rep); err != nil {
		t.Fatalf("unmarshal report: %v (stderr=%q)", err, stderr)
	}
	if rep.Strategy != "direct-spawn" || rep.PID <= 0 || rep.ExitCode != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunRejectsChangesWithoutProgram(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--close-fd", "7"})
	})
	if code != 1 || !strings.Contains(stderr, "need a program") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunRejectsUnknownPattern(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--pattern", "teleport", "--", "/bin/true"})
	})
	if code != 1 || stderr == "" {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunStatsRequiresLedger(t *testing.T) {
	path := writeConfig(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runStats([]string{"--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "ledger is disabled") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestBuildChangesFixedOrder(t *testing.T) {
	changes, err := buildChanges(runOptions{
		closeFDs:   []int{9},
		dupFDs:     []string{"4:1"},
		setEnv:     []string{"A=b=c"},
		chdir:      "/tmp",
		ignoreSigs: []string{"INT"},
		blockSigs:  []string{"SIGUSR1"},
		defaultSig: []string{"15"},
		uid:        1000,
		gid:        100,
	})
	if err != nil {
		t.Fatalf("buildChanges: %v", err)
	}

	want := []protocol.StateChange{
		protocol.Signal(syscall.SIGINT, protocol.DispositionIgnore),
		protocol.Signal(syscall.SIGUSR1, protocol.DispositionBlock),
		protocol.Signal(syscall.SIGTERM, protocol.DispositionDefault),
		protocol.CloseFD(9),
		protocol.DupFD(4, 1),
		protocol.SetEnv("A", "b=c"),
		protocol.Chdir("/tmp"),
		protocol.SetGID(100),
		protocol.SetUID(1000),
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d: %v", len(changes), len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestBuildChangesRejectsMalformed(t *testing.T) {
	cases := map[string]runOptions{
		"dup without colon": {dupFDs: []string{"4"}, uid: -1, gid: -1},
		"dup not numeric":   {dupFDs: []string{"a:b"}, uid: -1, gid: -1},
		"setenv no equals":  {setEnv: []string{"FOO"}, uid: -1, gid: -1},
		"setenv empty key":  {setEnv: []string{"=x"}, uid: -1, gid: -1},
		"unknown signal":    {ignoreSigs: []string{"SIGNOPE"}, uid: -1, gid: -1},
		"negative fd":       {closeFDs: []int{-2}, uid: -1, gid: -1},
	}
	for name, o := range cases {
		if _, err := buildChanges(o); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]syscall.Signal{
		"15":      syscall.SIGTERM,
		"TERM":    syscall.SIGTERM,
		"sigterm": syscall.SIGTERM,
		"SIGHUP":  syscall.SIGHUP,
	} {
		got, err := parseSignal(in)
		if err != nil {
			t.Fatalf("parseSignal(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSignal(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseSignal("0"); err == nil {
		t.Fatal("expected error for signal 0")
	}
}

func TestResolveProgram(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "spork-test-tool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	t.Setenv("PATH", dir)

	if got := resolveProgram("spork-test-tool"); got != tool {
		t.Fatalf("resolveProgram = %q, want %q", got, tool)
	}
	if got := resolveProgram("/bin/sh"); got != "/bin/sh" {
		t.Fatalf("absolute path rewritten to %q", got)
	}
	if got := resolveProgram("no-such-tool"); got != "no-such-tool" {
		t.Fatalf("missing tool = %q, want bare name", got)
	}
}
