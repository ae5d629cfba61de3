package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/doctor"
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/log"
	"github.com/mattjoyce/spork/internal/primer"
	"github.com/mattjoyce/spork/internal/storage"
	"github.com/mattjoyce/spork/internal/tui/watch"
)

// openLedger loads the config and opens its ledger for a read command.
func openLedger(configPath string) (*ledger.Ledger, *sql.DB, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Ledger.Enabled {
		return nil, nil, fmt.Errorf("ledger is disabled (set ledger.enabled: true)")
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)
	db, err := storage.OpenSQLite(context.Background(), cfg.Ledger.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger.New(db, log.Get()), db, nil
}

func runStats(args []string) int {
	fs := newFlagSet("stats")
	configPath := fs.String("config", "", "Path to configuration file")
	since := fs.Duration("since", 0, "Only count dispatches newer than this (e.g. 1h)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	led, db, err := openLedger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	snap, err := led.Summary(context.Background(), from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(snap)
	}
	fmt.Printf("total:            %d\n", snap.Total)
	fmt.Printf("direct-spawn:     %d\n", snap.DirectSpawn)
	fmt.Printf("primed-spawn:     %d\n", snap.PrimedSpawn)
	fmt.Printf("full-duplication: %d\n", snap.FullDuplication)
	fmt.Printf("failures:         %d\n", snap.Failures)
	fmt.Printf("average time:     %s\n", snap.AverageTime)
	return 0
}

func runHistory(args []string) int {
	fs := newFlagSet("history")
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Number of entries to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --limit must be positive")
		return 1
	}

	led, db, err := openLedger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := led.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(entries)
	}
	fmt.Print(renderHistory(entries, term.IsTerminal(int(os.Stdout.Fd()))))
	return 0
}

func renderHistory(entries []ledger.Entry, styled bool) string {
	headers := []string{"TIME", "STRATEGY", "PATTERN", "PID", "TARGET", "DURATION", "ERROR"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		errCol := ""
		if e.ErrorKind != "" {
			errCol = e.ErrorKind
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("15:04:05.000"),
			e.Strategy,
			e.Pattern,
			strconv.Itoa(e.PID),
			e.Target,
			e.Duration.Round(time.Microsecond).String(),
			errCol,
		})
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if styled {
		t = t.Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().Bold(true).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).BorderTop(false).BorderBottom(false)
	}
	return t.String() + "\n"
}

func runWatch(args []string) int {
	fs := newFlagSet("watch")
	apiURL := fs.String("api-url", "http://127.0.0.1:8086", "Base URL of a running 'spork serve'")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if err := watch.Run(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runDoctor(args []string) int {
	fs := newFlagSet("doctor")
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}

	res := doctor.New(cfg).Validate()
	if *jsonOut {
		code := printJSON(res)
		if code == 0 && !res.Valid {
			return 1
		}
		return code
	}

	if res.Loader != "" {
		fmt.Printf("loader: %s\n", res.Loader)
	}
	for _, w := range res.Warnings {
		fmt.Printf("WARN  [%s] %s\n", w.Category, issueText(w))
	}
	for _, e := range res.Errors {
		fmt.Printf("ERROR [%s] %s\n", e.Category, issueText(e))
	}
	if !res.Valid {
		fmt.Println("doctor: FAILED")
		return 1
	}
	fmt.Println("doctor: OK")
	return 0
}

func issueText(i doctor.Issue) string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: spork config check|show|pin [--config PATH]")
		return 1
	}
	verb, rest := args[0], args[1:]
	fs := newFlagSet("config " + verb)
	configPath := fs.String("config", "", "Path to configuration file")
	if code, ok := parseFlags(fs, rest); !ok {
		return code
	}

	switch verb {
	case "check":
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
			return 1
		}
		src := cfg.SourcePath
		if src == "" {
			src = "(defaults)"
		}
		fmt.Printf("Config valid: %s\n", src)
		return 0

	case "show":
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(out))
		return 0

	case "pin":
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		path, err := primer.ResolveLoader(cfg.Dispatcher.LoaderPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		sum, err := config.ComputeBlake3Hash(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("# %s\ndispatcher:\n  loader_path: %s\n  loader_checksum: %s\n", path, path, sum)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", verb)
		return 1
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
