// Package scanner runs the external policy scanner binary against one
// artifact and collects whatever it printed.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
)

const stderrTail = 2048

type Runner struct {
	Path    string
	Timeout time.Duration
}

func New(path string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{Path: path, Timeout: timeout}
}

type Request struct {
	JobID        string
	InputPath    string
	OutPath      string
	ProgressPath string
}

// Output is what one scanner run produced. ExitErr is set when the process
// failed but still printed something worth normalizing.
type Output struct {
	Raw      []byte
	Stderr   string
	ExitErr  error
	Duration time.Duration
}

// Args places global flags before the subcommand, as the scanner CLI expects.
func Args(req Request) []string {
	var args []string
	if req.ProgressPath != "" {
		args = append(args, "--progress", "--progress-file", req.ProgressPath)
	}
	args = append(args, "scan", "--file", req.InputPath, "--format", "json")
	if req.OutPath != "" {
		args = append(args, "--out", req.OutPath)
	}
	return args
}

// Run executes the scanner. The report file named by OutPath is preferred;
// stdout is used when the file is missing or empty. A run that fails and
// leaves no output at all is a ScannerInvocationFailed error.
func (r *Runner) Run(ctx context.Context, req Request) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := Args(req)
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("job %s: exec: %s %s", req.JobID, r.Path, strings.Join(args, " "))
	start := time.Now()
	runErr := cmd.Run()
	out := Output{Stderr: tail(stderr.String(), stderrTail), Duration: time.Since(start)}

	if req.OutPath != "" {
		if b, err := os.ReadFile(req.OutPath); err == nil && len(bytes.TrimSpace(b)) > 0 {
			out.Raw = b
		}
	}
	if out.Raw == nil && len(bytes.TrimSpace(stdout.Bytes())) > 0 {
		out.Raw = stdout.Bytes()
	}

	if runErr != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("timed out after %s: %w", r.Timeout, runErr)
		}
		if out.Raw == nil {
			if out.Stderr != "" {
				runErr = fmt.Errorf("%w (stderr: %s)", runErr, out.Stderr)
			}
			return out, apperr.Wrap(apperr.KindScannerInvocationFailed, "scanner.Run", runErr)
		}
		log.Printf("job %s: scanner exited with %v; keeping %d bytes of output", req.JobID, runErr, len(out.Raw))
		out.ExitErr = runErr
	}
	return out, nil
}

// Version is logged at startup so the deployed scanner build is visible.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	b, err := exec.CommandContext(ctx, r.Path, "--version").CombinedOutput()
	if err != nil {
		return "", apperr.Wrap(apperr.KindScannerInvocationFailed, "scanner.Version", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
