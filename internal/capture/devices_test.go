package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"emotion-monitor/internal/domain"
)

// fakeRunner simulates one-shot ffmpeg invocations.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// fakeStarter simulates ffmpeg recorders by writing the output file on start.
type fakeStarter struct {
	mu      sync.Mutex
	started int
	stopErr error
	failOn  int
	running int
}

// Start records the launch and creates the target clip file.
func (s *fakeStarter) Start(name string, args ...string) (process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	if s.failOn > 0 && s.started == s.failOn {
		return nil, errors.New("device busy")
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	s.running++
	return &fakeProcess{owner: s}, nil
}

type fakeProcess struct {
	owner *fakeStarter
}

// Stop marks the recorder finished.
func (p *fakeProcess) Stop() error {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	p.owner.running--
	return p.owner.stopErr
}

func deviceStat(string) (os.FileInfo, error) {
	return os.Stat(".")
}

// TestCameraSnapshotRequiresOpen verifies not-ready failures.
func TestCameraSnapshotRequiresOpen(t *testing.T) {
	cam := NewCameraForTests(Config{Dir: t.TempDir(), CameraDevice: "/dev/video0"}, "linux", &fakeRunner{}, deviceStat)

	_, err := cam.Snapshot(context.Background())
	if !errors.Is(err, ErrCaptureNotReady) {
		t.Fatalf("error = %v, want %v", err, ErrCaptureNotReady)
	}
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) || captureErr.Op != "snapshot" {
		t.Fatalf("expected CaptureError for snapshot, got %v", err)
	}
}

// TestCameraOpenFailsWhenDeviceMissing checks the Linux device node probe.
func TestCameraOpenFailsWhenDeviceMissing(t *testing.T) {
	cam := NewCameraForTests(Config{Dir: t.TempDir(), CameraDevice: "/dev/video9"}, "linux", &fakeRunner{}, os.Stat)
	if err := cam.Open(context.Background()); err == nil {
		t.Fatal("expected open error for missing device")
	}
	if cam.Ready() {
		t.Fatal("camera must not be ready after failed open")
	}
}

// TestCameraSnapshotWritesArtifact checks the happy path and ffmpeg args.
func TestCameraSnapshotWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	var gotArgs []string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		if name != "ffmpeg-custom" {
			t.Fatalf("command = %q, want ffmpeg-custom", name)
		}
		gotArgs = append([]string{}, args...)
		return commandResult{}, os.WriteFile(args[len(args)-1], []byte("jpeg"), 0o644)
	}}
	cam := NewCameraForTests(Config{FFmpegPath: "ffmpeg-custom", Dir: dir, CameraDevice: "/dev/video0"}, "linux", runner, os.Stat)
	cam.deps.stat = func(path string) (os.FileInfo, error) {
		if path == "/dev/video0" {
			return os.Stat(dir)
		}
		return os.Stat(path)
	}

	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	artifact, err := cam.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if artifact.Channel != domain.ChannelVisual || artifact.ID == "" {
		t.Fatalf("artifact = %+v", artifact)
	}
	if filepath.Dir(artifact.Path) != dir || !strings.HasSuffix(artifact.Path, ".jpg") {
		t.Fatalf("artifact path = %q", artifact.Path)
	}
	if argValue(gotArgs, "-f") != "v4l2" || argValue(gotArgs, "-frames:v") != "1" {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

// TestCameraSnapshotFailureRemovesPartialFile checks cleanup on ffmpeg error.
func TestCameraSnapshotFailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	var partial string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		partial = args[len(args)-1]
		_ = os.WriteFile(partial, []byte("half"), 0o644)
		return commandResult{Stderr: "device busy", ExitCode: 1}, errors.New("exit status 1")
	}}
	cam := NewCameraForTests(Config{Dir: dir, CameraDevice: "0"}, "darwin", runner, os.Stat)
	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := cam.Snapshot(context.Background())
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) || captureErr.Stderr != "device busy" {
		t.Fatalf("error = %v, want CaptureError with stderr", err)
	}
	if _, statErr := os.Stat(partial); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected partial frame removed, stat err = %v", statErr)
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if cam.Ready() {
		t.Fatal("camera still ready after close")
	}
}

// TestMicrophoneStartIsIdempotent guards against double-starting the device.
func TestMicrophoneStartIsIdempotent(t *testing.T) {
	starter := &fakeStarter{}
	mic := NewMicrophoneForTests(Config{Dir: t.TempDir(), MicrophoneDevice: "default"}, "linux", starter)

	for i := 0; i < 3; i++ {
		if err := mic.Start(context.Background()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	if starter.started != 1 {
		t.Fatalf("recorder launches = %d, want 1", starter.started)
	}
	if !mic.Recording() {
		t.Fatal("expected recording")
	}
}

// TestMicrophoneStopWithoutRecording returns nil clip.
func TestMicrophoneStopWithoutRecording(t *testing.T) {
	mic := NewMicrophoneForTests(Config{Dir: t.TempDir()}, "linux", &fakeStarter{})

	clip, err := mic.Stop(context.Background())
	if err != nil || clip != nil {
		t.Fatalf("Stop() = %v, %v; want nil, nil", clip, err)
	}
}

// TestMicrophoneStopReturnsClip checks the finished clip artifact.
func TestMicrophoneStopReturnsClip(t *testing.T) {
	starter := &fakeStarter{}
	mic := NewMicrophoneForTests(Config{Dir: t.TempDir()}, "linux", starter)
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	clip, err := mic.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if clip == nil || clip.Channel != domain.ChannelAudio || !strings.HasSuffix(clip.Path, ".wav") {
		t.Fatalf("clip = %+v", clip)
	}
	if mic.Recording() || starter.running != 0 {
		t.Fatal("recorder still running after stop")
	}
	if err := Discard(clip.Path); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := Discard(clip.Path); err != nil {
		t.Fatalf("second discard should ignore missing file: %v", err)
	}
}

// TestMicrophoneCutRollsRecording verifies stop-then-restart per cycle.
func TestMicrophoneCutRollsRecording(t *testing.T) {
	starter := &fakeStarter{}
	mic := NewMicrophoneForTests(Config{Dir: t.TempDir()}, "linux", starter)

	clip, err := mic.Cut(context.Background())
	if clip != nil || err != nil {
		t.Fatalf("Cut() before start = %v, %v; want nil, nil", clip, err)
	}

	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := mic.Cut(context.Background())
	if err != nil || first == nil {
		t.Fatalf("Cut() = %v, %v", first, err)
	}
	if !mic.Recording() || starter.started != 2 {
		t.Fatalf("recording=%v launches=%d, want true/2", mic.Recording(), starter.started)
	}

	second, err := mic.Cut(context.Background())
	if err != nil || second == nil || second.Path == first.Path {
		t.Fatalf("second Cut() = %v, %v", second, err)
	}

	if _, err := mic.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clip, _ := mic.Cut(context.Background()); clip != nil {
		t.Fatal("Cut after Stop must not restart the device")
	}
	if mic.Recording() {
		t.Fatal("microphone restarted after stop")
	}
}

// TestMicrophoneCutRetriesFailedRestart checks self-healing after a failed restart.
func TestMicrophoneCutRetriesFailedRestart(t *testing.T) {
	starter := &fakeStarter{failOn: 2}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	mic := NewMicrophoneForTests(Config{Dir: t.TempDir(), MicrophoneDevice: "hw:1", Logger: logger}, "linux", starter)
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	clip, err := mic.Cut(context.Background())
	if err != nil || clip == nil {
		t.Fatalf("Cut() = %v, %v; want clip despite failed restart", clip, err)
	}
	if mic.Recording() {
		t.Fatal("expected recording to be down after failed restart")
	}
	if out := logs.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "microphone restart failed") || !strings.Contains(out, "hw:1") {
		t.Fatalf("restart failure not logged: %q", out)
	}

	clip, err = mic.Cut(context.Background())
	if clip != nil || err != nil {
		t.Fatalf("retry Cut() = %v, %v; want nil, nil", clip, err)
	}
	if !mic.Recording() {
		t.Fatal("expected retry to restart recording")
	}
}

// TestMicrophoneStopFailureRemovesClip checks cleanup when the recorder fails.
func TestMicrophoneStopFailureRemovesClip(t *testing.T) {
	starter := &fakeStarter{stopErr: errors.New("killed")}
	dir := t.TempDir()
	mic := NewMicrophoneForTests(Config{Dir: dir}, "linux", starter)
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := mic.Stop(context.Background()); err == nil {
		t.Fatal("expected stop error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover clips, got %d", len(entries))
	}
}

// TestBuildRecordArgs checks platform demuxers and WAV output.
func TestBuildRecordArgs(t *testing.T) {
	args := buildRecordArgs("windows", "audio=Mic", "/tmp/a.wav")
	if argValue(args, "-f") != "dshow" || argValue(args, "-i") != "audio=Mic" {
		t.Fatalf("unexpected args: %v", args)
	}
	if argValue(args, "-ar") != "16000" || args[len(args)-1] != "/tmp/a.wav" {
		t.Fatalf("unexpected args: %v", args)
	}
	for _, arg := range args {
		if arg == "-nostdin" {
			t.Fatal("recorder needs stdin for graceful stop")
		}
	}
}

// argValue returns the value following a flag or empty string.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
