// Package discover enumerates candidate remote-debugging endpoints across
// a fixed port range and filters them down to plausible IDE windows.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Endpoint describes one debuggable page found on a port. Immutable,
// scoped to a single discovery pass.
type Endpoint struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Config for a discovery pass.
type Config struct {
	Host          string
	Ports         []int
	ProductMarker string
	ProbeTimeout  time.Duration
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Discover probes every configured port concurrently and returns the
// filtered endpoints in deterministic order: port order first, then the
// original list order within a port. Unresponsive or malformed ports are
// skipped; discovery itself never fails, the worst case is an empty list.
func Discover(ctx context.Context, cfg Config) []Endpoint {
	cfg.defaults()

	perPort := make([][]Endpoint, len(cfg.Ports))
	var wg sync.WaitGroup
	for i, port := range cfg.Ports {
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			eps, err := probePort(ctx, cfg, port)
			if err != nil {
				cfg.Logger.Debug("discover: port skipped", "port", port, "error", err)
				return
			}
			perPort[i] = eps
		}(i, port)
	}
	wg.Wait()

	var out []Endpoint
	for _, eps := range perPort {
		out = append(out, eps...)
	}
	return out
}

func probePort(ctx context.Context, cfg Config, port int) ([]Endpoint, error) {
	pages, err := listPages(ctx, cfg, port, "/json/list")
	if err != nil {
		// Older runtimes only answer /json.
		pages, err = listPages(ctx, cfg, port, "/json")
	}
	if err != nil {
		return nil, err
	}

	var kept []Endpoint
	for _, p := range pages {
		if !plausible(p, cfg.ProductMarker) {
			continue
		}
		p.Host = cfg.Host
		p.Port = port
		kept = append(kept, p)
	}
	return kept, nil
}

func listPages(ctx context.Context, cfg Config, port int, path string) ([]Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", cfg.Host, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover: %s: http %d", url, resp.StatusCode)
	}

	var pages []Endpoint
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return nil, fmt.Errorf("discover: decode %s: %w", url, err)
	}
	return pages, nil
}

// plausible is the permissive window heuristic: workbench URL marker,
// product name in the title, or a plain "page" entry.
func plausible(e Endpoint, marker string) bool {
	if strings.Contains(e.URL, "workbench.html") {
		return true
	}
	if marker != "" && strings.Contains(e.Title, marker) {
		return true
	}
	return e.Type == "page"
}
