package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/spork/internal/api"
	"github.com/mattjoyce/spork/internal/events"
)

type eventMsg events.Event

type statsMsg api.StatsResponse

type healthMsg api.HealthzResponse

type tickMsg time.Time

type errMsg error

type streamClosedMsg struct{}
type reconnectMsg struct{}

// readSSE parses an event stream into out until the body ends.
func readSSE(ctx context.Context, apiURL string, lastID int64, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/events", nil)
	if err != nil {
		return err
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events: %s", resp.Status)
	}

	var cur events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Data != nil {
				cur.At = time.Now()
				select {
				case out <- cur:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			cur = events.Event{}
		case strings.HasPrefix(line, "id: "):
			cur.ID, _ = strconv.ParseInt(line[4:], 10, 64)
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	return sc.Err()
}

func subscribe(apiURL string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = readSSE(context.Background(), apiURL, lastID, ch)
		return streamClosedMsg{}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func getJSON(url string, v any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func fetchStats(apiURL string) tea.Msg {
	var s api.StatsResponse
	if err := getJSON(apiURL+"/stats", &s); err != nil {
		return errMsg(err)
	}
	return statsMsg(s)
}

func fetchHealth(apiURL string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL+"/healthz", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}
