// Package main provides the e2e smoke runner CLI. It drives a running stack
// (gateway, dispatcher, adapter, aggregator, NATS, mock participants) through
// the public HTTP API and verifies the aggregated outcomes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const sampleContract = `# Supply Contract

1. Subject of the Contract
The Seller delivers industrial equipment to the Buyer.

2. Specification
TABLE: Pump P-100 | 2 | pcs | 1500.00 | 3000.00 | DE
TABLE: Valve V-20 | 10 | pcs | 45.50 | 455.00 | IT

3. Payment Terms
Payment within 30 calendar days of delivery.
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		gatewayURL string
		outputJSON bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "e2e [scenario]",
		Short: "Run contrail e2e smoke tests",
		Long: `Run end-to-end smoke tests against a running contrail stack.

Available scenarios:
  submit-sync   - Submit a contract with ?wait=true and verify the final result
  submit-async  - Submit, then poll task status until terminal
  all           - Run all scenarios (default)

Examples:
  e2e                              # Run all scenarios
  e2e submit-sync                  # Run a specific scenario
  e2e --gateway http://host:8080   # Custom gateway URL
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) > 0 {
				name = args[0]
			}
			return run(name, gatewayURL, outputJSON, timeout)
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:8080", "gateway base URL")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "global timeout for all scenarios")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("Available scenarios:")
			fmt.Println()
			fmt.Println("  submit-sync   Submit a contract with ?wait=true and verify the final result")
			fmt.Println("  submit-async  Submit, then poll task status until terminal")
			fmt.Println()
			fmt.Println("Use 'e2e all' to run all scenarios.")
		},
	})

	return cmd
}

// result captures one scenario outcome.
type result struct {
	Scenario string        `json:"scenario"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type scenario struct {
	name string
	run  func(ctx context.Context, gateway string) error
}

func run(name, gateway string, outputJSON bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	all := []scenario{
		{name: "submit-sync", run: runSubmitSync},
		{name: "submit-async", run: runSubmitAsync},
	}

	var toRun []scenario
	if name == "all" {
		toRun = all
	} else {
		for _, s := range all {
			if s.name == name {
				toRun = []scenario{s}
			}
		}
		if len(toRun) == 0 {
			return fmt.Errorf("unknown scenario: %s", name)
		}
	}

	var results []result
	failed := 0
	for _, s := range toRun {
		if ctx.Err() != nil {
			break
		}
		if !outputJSON {
			fmt.Printf("Running %s... ", s.name)
		}
		start := time.Now()
		err := s.run(ctx, gateway)
		r := result{Scenario: s.name, Success: err == nil, Duration: time.Since(start)}
		if err != nil {
			r.Error = err.Error()
			failed++
			if !outputJSON {
				fmt.Printf("FAILED: %v\n", err)
			}
		} else if !outputJSON {
			fmt.Printf("PASSED (%dms)\n", r.Duration.Milliseconds())
		}
		results = append(results, r)
	}

	if outputJSON {
		data, err := json.MarshalIndent(map[string]any{
			"timestamp": time.Now(),
			"results":   results,
			"passed":    len(results) - failed,
			"failed":    failed,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("\nTotal: %d | Passed: %d | Failed: %d\n", len(results), len(results)-failed, failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed", failed)
	}
	return nil
}

// finalResult mirrors the aggregated outcome the gateway returns. Each
// results value is the participant payload, an error object, or "timeout".
type finalResult struct {
	TaskID  string                     `json:"task_id"`
	Status  string                     `json:"status"`
	Results map[string]json.RawMessage `json:"results"`
	Missing []string                   `json:"missing"`
}

func runSubmitSync(ctx context.Context, gateway string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		gateway+"/contracts?wait=true&filename=sample.md", strings.NewReader(sampleContract))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/markdown")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit returned %d: %s", resp.StatusCode, body)
	}

	var final finalResult
	if err := json.Unmarshal(body, &final); err != nil {
		return fmt.Errorf("decode final result: %w", err)
	}
	if final.Status != "complete" && final.Status != "timed_out" {
		return fmt.Errorf("final status = %q", final.Status)
	}
	if len(final.Results) == 0 {
		return fmt.Errorf("final result carries no participant verdicts")
	}
	return nil
}

func runSubmitAsync(ctx context.Context, gateway string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		gateway+"/contracts?filename=sample.md", strings.NewReader(sampleContract))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/markdown")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit returned %d: %s", resp.StatusCode, body)
	}

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return fmt.Errorf("decode submit response: %w", err)
	}
	if accepted.TaskID == "" {
		return fmt.Errorf("submit response carries no task_id")
	}

	// Poll until the task reaches a terminal state.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("task %s never finished: %w", accepted.TaskID, ctx.Err())
		case <-ticker.C:
		}

		status, err := fetchTaskStatus(ctx, gateway, accepted.TaskID)
		if err != nil {
			return err
		}
		switch status {
		case "complete", "timed_out", "failed":
			return nil
		}
	}
}

func fetchTaskStatus(ctx context.Context, gateway, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gateway+"/tasks/"+taskID, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("task lookup returned %d", resp.StatusCode)
	}
	var task struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	return task.Status, nil
}
