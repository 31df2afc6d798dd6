package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
)

var companies = []string{"Infosys", "TCS", "Apple", "Microsoft", "Wipro", "Coca-Cola"}

var models = []string{"DCF", "LBO", "3-statement", "FP&A"}

func main() {
	gateway := flag.String("gateway", "http://localhost:8000", "gateway base URL")
	apiKey := flag.String("api-key", "", "bearer token, if the gateway requires one")
	concurrency := flag.Int("concurrency", 10, "number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	fmt.Printf("Load test: %d concurrent sessions for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s\n\n", *gateway)

	c := &client{
		base:  strings.TrimRight(*gateway, "/"),
		key:   *apiKey,
		http:  &http.Client{Timeout: time.Minute},
		wsURL: "ws" + strings.TrimPrefix(strings.TrimRight(*gateway, "/"), "http"),
	}

	var mu sync.Mutex
	var results []sessionResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				r := c.runSession()
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type sessionResult struct {
	success    bool
	researchMs float64
	buildMs    float64
	totalMs    float64
	err        string
}

type client struct {
	base  string
	key   string
	wsURL string
	http  *http.Client
}

func (c *client) runSession() sessionResult {
	start := time.Now()

	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.call(http.MethodPost, "/api/sessions", nil, &created); err != nil {
		return sessionResult{err: fmt.Sprintf("create: %v", err)}
	}
	defer c.call(http.MethodDelete, "/api/sessions/"+created.SessionID, nil, nil)

	query := fmt.Sprintf("Analyse %s and build a %s model",
		companies[rand.Intn(len(companies))], models[rand.Intn(len(models))])
	researchMs, err := c.group(created.SessionID, "/research", map[string]string{"query": query})
	if err != nil {
		return sessionResult{err: fmt.Sprintf("research: %v", err)}
	}

	buildMs, err := c.group(created.SessionID, "/confirm", map[string]bool{"confirmed": true})
	if err != nil {
		return sessionResult{err: fmt.Sprintf("build: %v", err)}
	}

	if err := c.call(http.MethodGet, "/api/sessions/"+created.SessionID+"/download", nil, nil); err != nil {
		return sessionResult{err: fmt.Sprintf("download: %v", err)}
	}

	return sessionResult{
		success:    true,
		researchMs: researchMs,
		buildMs:    buildMs,
		totalMs:    float64(time.Since(start).Milliseconds()),
	}
}

// group subscribes to the session stream, triggers one pipeline group and
// waits for its done event.
func (c *client) group(id, action string, body any) (float64, error) {
	header := http.Header{}
	if c.key != "" {
		header.Set("Authorization", "Bearer "+c.key)
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL+"/ws/sessions/"+id+"/logs", header)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	if err := c.call(http.MethodPost, "/api/sessions/"+id+action, body, nil); err != nil {
		return 0, err
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	var failure string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		var ev logbus.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Status {
		case logbus.Error:
			failure = ev.Message
		case logbus.Done:
			if failure != "" {
				return 0, fmt.Errorf("%s", failure)
			}
			return float64(time.Since(start).Milliseconds()), nil
		}
	}
}

func (c *client) call(method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

func printSummary(results []sessionResult) {
	var succeeded, failed int
	var researchAll, buildAll, e2eAll []float64
	errs := map[string]int{}

	for _, r := range results {
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		researchAll = append(researchAll, r.researchMs)
		buildAll = append(buildAll, r.buildMs)
		e2eAll = append(e2eAll, r.totalMs)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Sessions completed: %d\n", succeeded)
	fmt.Printf("Sessions failed:    %d\n", failed)
	if total := succeeded + failed; total > 0 {
		fmt.Printf("Success rate:       %.1f%%\n", 100*float64(succeeded)/float64(total))
	}
	for msg, n := range errs {
		fmt.Fprintf(os.Stderr, "  %4d x %s\n", n, msg)
	}

	if len(e2eAll) == 0 {
		fmt.Println("No successful sessions to report latency")
		return
	}

	fmt.Printf("\n%-9s %8s %8s %8s\n", "Group", "p50", "p95", "p99")
	fmt.Printf("%-9s %8.0fms %8.0fms %8.0fms\n", "research", percentile(researchAll, 50), percentile(researchAll, 95), percentile(researchAll, 99))
	fmt.Printf("%-9s %8.0fms %8.0fms %8.0fms\n", "build", percentile(buildAll, 50), percentile(buildAll, 95), percentile(buildAll, 99))
	fmt.Printf("%-9s %8.0fms %8.0fms %8.0fms\n", "E2E", percentile(e2eAll, 50), percentile(e2eAll, 95), percentile(e2eAll, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
