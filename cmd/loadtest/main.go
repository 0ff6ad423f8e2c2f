package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const (
	idempotencyHeader = "Idempotency-Key"
	scenarioStep      = "scenario"
)

type loadMode string

const (
	modeQuote       loadMode = "quote"
	modeCheckout    loadMode = "checkout"
	modeCheckoutPay loadMode = "checkout-pay"
)

// outcome итог одного сценария или шага.
type outcome string

const (
	outcomeOK       outcome = "ok"
	outcomeConflict outcome = "conflict"
	outcomeFailed   outcome = "failed"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	variantID   string
	quantity    int
	fakeSecret  string
	emailTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Conflicts int64            `json:"conflicts"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	ConflictScenarios int64                 `json:"conflict_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

type stepStats struct {
	calls     int64
	success   int64
	conflicts int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	steps map[string]*stepStats
}

func newCollector() *collector {
	return &collector{
		steps: make(map[string]*stepStats),
	}
}

// record учитывает вызов. status — HTTP-код или "error" для сетевых ошибок.
func (c *collector) record(step string, latency time.Duration, status string, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.steps[step]
	if !ok {
		stats = &stepStats{
			statuses: make(map[string]int64),
		}
		c.steps[step] = stats
	}

	stats.calls++
	switch result {
	case outcomeOK:
		stats.success++
	case outcomeConflict:
		stats.conflicts++
	default:
		stats.failed++
	}
	stats.statuses[status]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}

	if scenario := c.steps[scenarioStep]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.ConflictScenarios = scenario.conflicts
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.steps {
		statuses := make(map[string]int64, len(stats.statuses))
		for status, count := range stats.statuses {
			statuses[status] = count
		}
		result.Steps[name] = stepReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Conflicts: stats.conflicts,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statuses,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "storefront HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 200, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m, 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: quote | checkout | checkout-pay")
	fs.StringVar(&cfg.variantID, "variant", memory.DemoTeeWhiteM, "variant id every scenario buys")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per scenario")
	fs.StringVar(&cfg.fakeSecret, "fake-secret", "", "fake gateway secret used to sign notifications in checkout-pay mode")
	fs.StringVar(&cfg.emailTag, "email-tag", "load", "local part prefix for buyer emails")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("base-url is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if strings.TrimSpace(cfg.variantID) == "" {
		return cfg, errors.New("variant is required")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.mode == modeCheckoutPay && strings.TrimSpace(cfg.fakeSecret) == "" {
		return cfg, errors.New("fake-secret is required in checkout-pay mode")
	}
	if strings.TrimSpace(cfg.emailTag) == "" {
		return cfg, errors.New("email-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeQuote:
		return modeQuote, nil
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutPay:
		return modeCheckoutPay, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := execute(context.Background(), cfg, &http.Client{})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// execute гоняет сценарии в cfg.concurrency воркеров и собирает отчёт.
func execute(ctx context.Context, cfg config, httpClient *http.Client) report {
	startedAt := time.Now()
	runner := &scenarioRunner{
		cfg:    cfg,
		client: httpClient,
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    newCollector(),
		signer: payment.NewFakeGateway("", cfg.fakeSecret),
	}

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		g.Go(func() error {
			for id := range jobs {
				runner.run(gctx, id)
			}
			return nil
		})
	}

	dispatchJobs(jobs, cfg)
	_ = g.Wait()

	return runner.col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type scenarioRunner struct {
	cfg    config
	client *http.Client
	runID  string
	col    *collector
	signer *payment.FakeGateway
}

type checkoutResponse struct {
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int64  `json:"total"`
}

// run выполняет один сценарий. 409 на checkout означает, что товар
// раскуплен конкурентами: для нагрузки на один SKU это ожидаемый исход.
func (s *scenarioRunner) run(ctx context.Context, index int) {
	start := time.Now()
	result := outcomeOK
	status := strconv.Itoa(http.StatusOK)
	defer func() {
		s.col.record(scenarioStep, time.Since(start), status, result)
	}()

	items := []map[string]any{{"variant_id": s.cfg.variantID, "quantity": s.cfg.quantity}}

	if s.cfg.mode == modeQuote {
		status, result = s.call(ctx, "quote", http.MethodPost, "/api/cart/quote", map[string]any{"items": items}, nil, nil)
		return
	}

	var created checkoutResponse
	status, result = s.call(ctx, "checkout", http.MethodPost, "/api/checkout", map[string]any{
		"email":          fmt.Sprintf("%s+%s-%d@example.com", s.cfg.emailTag, s.runID, index),
		"fullName":       "Load Test",
		"phone":          "+48500000000",
		"address":        map[string]any{"street": "ul. Testowa 1", "city": "Warszawa", "postalCode": "00-001", "country": "PL"},
		"shippingMethod": "COURIER",
		"items":          items,
	}, map[string]string{idempotencyHeader: fmt.Sprintf("lt-checkout-%s-%d", s.runID, index)}, &created)
	if result != outcomeOK || s.cfg.mode != modeCheckoutPay {
		return
	}
	if created.OrderID == "" {
		status, result = "empty-order-id", outcomeFailed
		return
	}

	var order orderResponse
	status, result = s.call(ctx, "get-order", http.MethodGet, "/api/orders/"+created.OrderID, nil, nil, &order)
	if result != outcomeOK {
		return
	}

	raw := s.signer.Notification(created.OrderID, order.Total, "lt-"+s.runID+"-"+strconv.Itoa(index))
	status, result = s.call(ctx, "notify", http.MethodPost, "/api/p24/notify", json.RawMessage(raw), nil, nil)
}

// call отправляет запрос и записывает шаг в коллектор.
func (s *scenarioRunner) call(ctx context.Context, step, method, path string, body any, headers map[string]string, out any) (string, outcome) {
	start := time.Now()
	status, result := s.do(ctx, method, path, body, headers, out)
	s.col.record(step, time.Since(start), status, result)
	return status, result
}

func (s *scenarioRunner) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) (string, outcome) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "encode-error", outcomeFailed
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.baseURL+path, reader)
	if err != nil {
		return "request-error", outcomeFailed
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "error", outcomeFailed
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusConflict:
		_, _ = io.Copy(io.Discard, resp.Body)
		return status, outcomeConflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return status, outcomeFailed
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "decode-error", outcomeFailed
		}
	}
	return status, outcomeOK
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s variant=%s total=%d success=%d conflict=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		cfg.variantID,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.ConflictScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	stepNames := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		if name == scenarioStep {
			continue
		}
		stepNames = append(stepNames, name)
	}
	sort.Strings(stepNames)
	for _, name := range stepNames {
		stats := result.Steps[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d conflict=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Conflicts,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
