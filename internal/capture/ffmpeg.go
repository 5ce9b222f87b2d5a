// Package capture owns the camera and microphone and turns them into artifacts.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrCaptureNotReady is returned when a device has not been opened.
var ErrCaptureNotReady = errors.New("capture device not ready")

// CaptureError is a device-aware error with optional command output.
type CaptureError struct {
	Op     string `json:"op"`
	Device string `json:"device"`
	Stderr string `json:"stderr,omitempty"`
	Err    error  `json:"-"`
}

// Error formats capture failures for logs and UI.
func (e *CaptureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stderr == "" {
		return fmt.Sprintf("capture %s (%s): %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("capture %s (%s): %v: %s", e.Op, e.Device, e.Err, e.Stderr)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CaptureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Discard removes an artifact that will never be submitted.
func Discard(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts one-shot process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// process is a long-running recorder that can be asked to finish its file.
type process interface {
	Stop() error
}

// processStarter abstracts launching a long-running recorder for testability.
type processStarter interface {
	Start(name string, args ...string) (process, error)
}

// execStarter launches ffmpeg recorders via os/exec.
type execStarter struct {
	stopTimeout time.Duration
}

// Start launches the command with a stdin pipe used for graceful shutdown.
func (s *execStarter) Start(name string, args ...string) (process, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	return &execProcess{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  &stderr,
		done:    done,
		timeout: s.stopTimeout,
	}, nil
}

// execProcess is one running ffmpeg recorder.
type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	done    chan error
	timeout time.Duration
}

// Stop asks ffmpeg to finalize the file by sending "q" and kills it on timeout.
func (p *execProcess) Stop() error {
	_, _ = io.WriteString(p.stdin, "q\n")
	_ = p.stdin.Close()

	timeout := p.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case err := <-p.done:
		if err != nil {
			return fmt.Errorf("recorder exited: %w (%s)", err, trimOutput(p.stderr.String()))
		}
		return nil
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		<-p.done
		return fmt.Errorf("recorder did not stop within %s", timeout)
	}
}

// inputFormat returns the ffmpeg demuxer for the platform capture device.
func inputFormat(goos string, video bool) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		if video {
			return "v4l2"
		}
		return "alsa"
	}
}

// buildSnapshotArgs builds ffmpeg args for grabbing one low-quality JPEG frame.
func buildSnapshotArgs(goos, device, outPath string, quality int) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-f", inputFormat(goos, true),
	}
	if goos == "darwin" {
		args = append(args, "-framerate", "30")
	}
	return append(args,
		"-i", device,
		"-frames:v", "1",
		"-q:v", fmt.Sprint(quality),
		outPath,
	)
}

// buildRecordArgs builds ffmpeg args for recording mono 16k PCM WAV until stopped.
func buildRecordArgs(goos, device, outPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", inputFormat(goos, false),
		"-i", device,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func trimOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > 500 {
		return out[:500] + "..."
	}
	return out
}
