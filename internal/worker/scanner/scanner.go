// Package scanner wraps the external port-scanning tool. The tool is invoked
// as a subprocess against one target and asked to write its XML report to
// stdout, which is parsed into a structured Report.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Report is the parsed outcome of one scan
type Report struct {
	OSGuess  string
	Ports    []PortFinding
	Findings []VulnFinding
}

// PortFinding is one observed port
type PortFinding struct {
	Port     int
	Protocol string
	State    string
	Service  string
	Version  string
}

// VulnFinding is one vulnerability reported by the tool's script output
type VulnFinding struct {
	Port     int
	Protocol string
	Script   string
	Output   string
}

// Scanner runs the external tool
type Scanner struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// Config holds scanner invocation settings
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func New(config *Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		command: config.Command,
		args:    config.Args,
		timeout: config.Timeout,
		logger:  logger,
	}
}

// Scan runs the tool against the target under the configured deadline.
// Exceeding the deadline, a non-zero exit, or unparsable output are all
// application-level failures.
func (s *Scanner) Scan(ctx context.Context, target string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string{}, s.args...), target)
	cmd := exec.CommandContext(ctx, s.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("Running scan tool",
		slog.String("command", s.command),
		slog.String("target", target),
		slog.Duration("timeout", s.timeout),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan of %s timed out after %s", target, s.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool failed: %w (stderr: %s)", err, truncate(stderr.String(), 512))
	}

	report, err := ParseReport(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse scan output: %w", err)
	}

	s.logger.Info("Scan finished",
		slog.String("target", target),
		slog.Int("ports", len(report.Ports)),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("elapsed", elapsed),
	)

	return report, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
