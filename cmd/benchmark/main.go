// Benchmark tool for measuring Heron against labelled transactions.
//
// Usage:
//
//	go run ./cmd/benchmark -csv data/transactions.csv -url http://localhost:8080
//	go run ./cmd/benchmark -synthetic 500
//
// This tool:
//  1. Reads labelled transactions (or synthesizes them)
//  2. Sends each transaction to POST /explain
//  3. Compares Heron's alert flag with the money laundering label
//  4. Reports precision, recall, F1, band mix, escalations and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
)

// Sample is one labelled transaction.
type Sample struct {
	Features   domain.FeatureSet
	Laundering bool
}

// ExplainRequest is the Heron API request format.
type ExplainRequest struct {
	Features domain.FeatureSet `json:"features"`
}

// ExplainResponse holds the fields of the Heron API response the benchmark reads.
type ExplainResponse struct {
	ID          string              `json:"id"`
	Explanation domain.Explanation  `json:"explanation"`
	Escalations []domain.Escalation `json:"escalations"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Laundering flagged
	FalsePositives int64 // Clean transaction flagged
	TrueNegatives  int64 // Clean transaction passed
	FalseNegatives int64 // Laundering missed

	TotalProcessed  int64
	TotalLaundering int64
	TotalClean      int64
	TotalErrors     int64
	TotalOOD        int64

	ProcessingTimeMs int64

	mu          sync.Mutex
	bands       map[domain.RiskBand]int64
	escalations map[string]int64
}

func newMetrics() *Metrics {
	return &Metrics{
		bands:       make(map[domain.RiskBand]int64),
		escalations: make(map[string]int64),
	}
}

func (m *Metrics) record(s Sample, resp *ExplainResponse) {
	if s.Laundering {
		atomic.AddInt64(&m.TotalLaundering, 1)
	} else {
		atomic.AddInt64(&m.TotalClean, 1)
	}

	predicted := resp.Explanation.AlertFlag
	switch {
	case predicted && s.Laundering:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !s.Laundering:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !s.Laundering:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}

	if resp.Explanation.OODFlag {
		atomic.AddInt64(&m.TotalOOD, 1)
	}

	m.mu.Lock()
	m.bands[resp.Explanation.RiskBand]++
	for _, e := range resp.Escalations {
		m.escalations[e.Queue]++
	}
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labelled transactions CSV")
	synthetic := flag.Int("synthetic", 0, "Synthesize this many customers instead of reading a CSV")
	seed := flag.Int64("seed", 7, "Seed for synthetic data")
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" && *synthetic <= 0 {
		fmt.Println("Usage: benchmark -csv data/transactions.csv | -synthetic N [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|           HERON BENCHMARK - Money Laundering Alerts           |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nHeron URL:   %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run ./cmd/heronctl train && go run ./cmd/heron")
		os.Exit(1)
	}
	fmt.Println("Heron is healthy")

	frame, err := loadFrame(*csvPath, *synthetic, *seed)
	if err != nil {
		fmt.Printf("ERROR: Failed to load transactions: %v\n", err)
		os.Exit(1)
	}
	samples, err := samplesFrom(frame, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read transactions: %v\n", err)
		os.Exit(1)
	}
	if len(samples) == 0 {
		fmt.Println("ERROR: no transactions to send")
		os.Exit(1)
	}

	positives := 0
	for _, s := range samples {
		if s.Laundering {
			positives++
		}
	}
	fmt.Printf("Loaded %d transactions\n", len(samples))
	fmt.Printf("  - Laundering: %d (%.2f%%)\n", positives, 100*float64(positives)/float64(len(samples)))
	fmt.Printf("  - Clean:      %d (%.2f%%)\n", len(samples)-positives, 100*float64(len(samples)-positives)/float64(len(samples)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func loadFrame(path string, customers int, seed int64) (*dataset.Frame, error) {
	if path != "" {
		return dataset.Load(path)
	}
	opts := dataset.DefaultSyntheticOptions()
	opts.Customers = customers
	opts.Seed = seed
	return dataset.Synthesize(opts), nil
}

func samplesFrom(frame *dataset.Frame, limit int) ([]Sample, error) {
	rows, err := frame.Project(domain.ModelFeatures)
	if err != nil {
		return nil, err
	}
	labels, err := frame.Column(domain.TargetColumn)
	if err != nil {
		return nil, err
	}

	n := len(rows)
	if limit > 0 && limit < n {
		n = limit
	}

	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		fs := make(domain.FeatureSet, len(domain.ModelFeatures))
		for k, name := range domain.ModelFeatures {
			fs[name] = rows[i][k]
		}
		samples[i] = Sample{Features: fs, Laundering: labels[i] == 1}
	}
	return samples, nil
}

func runBenchmark(samples []Sample, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := newMetrics()

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := explainTransaction(client, baseURL, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				metrics.record(s, result)

				if verbose {
					status := "ok  "
					if result.Explanation.AlertFlag != s.Laundering {
						status = "MISS"
					}
					fmt.Printf("%s %-36s | Amount: %12.2f | Label: %-5v | Score: %.4f %-10s | OOD: %v\n",
						status,
						result.ID,
						s.Features[domain.FeatureTransactionAmount],
						s.Laundering,
						result.Explanation.RiskScore,
						result.Explanation.RiskBand,
						result.Explanation.OODFlag,
					)
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func explainTransaction(client *http.Client, baseURL string, s Sample) (*ExplainResponse, error) {
	body, err := json.Marshal(ExplainRequest{Features: s.Features})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/explain", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ExplainResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Scores derives the detection ratios from the confusion matrix.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                       BENCHMARK RESULTS                       |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Laundering:       %d\n", m.TotalLaundering)
	fmt.Printf("   Clean:            %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                  ALERT     NO ALERT")
	fmt.Printf("   Actual  ML   %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          CLN   %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1, accuracy := m.Scores()
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nRISK BANDS\n")
	for _, band := range []domain.RiskBand{domain.BandLow, domain.BandBorderline, domain.BandHigh} {
		fmt.Printf("   %-11s %d\n", band, m.bands[band])
	}
	fmt.Printf("   Out of range inputs: %d\n", m.TotalOOD)

	if len(m.escalations) > 0 {
		fmt.Printf("\nESCALATIONS\n")
		queues := make([]string, 0, len(m.escalations))
		for q := range m.escalations {
			queues = append(queues, q)
		}
		sort.Strings(queues)
		for _, q := range queues {
			fmt.Printf("   %-14s %d\n", q, m.escalations[q])
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
