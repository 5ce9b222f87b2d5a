package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"emotion-monitor/internal/domain"
)

// DefaultSnapshotQuality is the ffmpeg JPEG quality scale value (2 best, 31 worst).
const DefaultSnapshotQuality = 10

// Config selects the ffmpeg binary, devices and artifact directory.
type Config struct {
	FFmpegPath       string
	CameraDevice     string
	MicrophoneDevice string
	Dir              string
	Quality          int
	Logger           *slog.Logger
}

// deps bundles OS dependencies shared by both devices.
type deps struct {
	goos     string
	stat     func(string) (os.FileInfo, error)
	mkdirAll func(string, os.FileMode) error
	remove   func(string) error
	newID    func() string
	now      func() time.Time
}

func osDeps() deps {
	return deps{
		goos:     goruntime.GOOS,
		stat:     os.Stat,
		mkdirAll: os.MkdirAll,
		remove:   os.Remove,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Quality <= 0 {
		c.Quality = DefaultSnapshotQuality
	}
	if strings.TrimSpace(c.Dir) == "" {
		c.Dir = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Camera grabs still frames from a video device.
type Camera struct {
	cfg    Config
	runner commandRunner
	deps   deps

	mu      sync.Mutex
	mounted bool
}

// NewCamera creates a camera backed by ffmpeg.
func NewCamera(cfg Config) *Camera {
	return &Camera{cfg: cfg.withDefaults(), runner: &execRunner{}, deps: osDeps()}
}

// Open mounts the camera. On Linux the device node must exist.
func (c *Camera) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.deps.mkdirAll(c.cfg.Dir, 0o755); err != nil {
		return &CaptureError{Op: "open", Device: c.cfg.CameraDevice, Err: fmt.Errorf("create artifact dir: %w", err)}
	}
	if c.deps.goos == "linux" {
		if _, err := c.deps.stat(c.cfg.CameraDevice); err != nil {
			return &CaptureError{Op: "open", Device: c.cfg.CameraDevice, Err: err}
		}
	}

	c.mu.Lock()
	c.mounted = true
	c.mu.Unlock()
	return nil
}

// Ready reports whether the camera is mounted.
func (c *Camera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Snapshot captures one frame into a new visual artifact.
func (c *Camera) Snapshot(ctx context.Context) (domain.Artifact, error) {
	if !c.Ready() {
		return domain.Artifact{}, &CaptureError{Op: "snapshot", Device: c.cfg.CameraDevice, Err: ErrCaptureNotReady}
	}

	artifact := newArtifact(c.deps, c.cfg.Dir, domain.ChannelVisual, ".jpg")
	args := buildSnapshotArgs(c.deps.goos, c.cfg.CameraDevice, artifact.Path, c.cfg.Quality)
	result, err := c.runner.Run(ctx, c.cfg.FFmpegPath, args...)
	if err != nil {
		_ = ignoreMissing(c.deps.remove(artifact.Path))
		return domain.Artifact{}, &CaptureError{
			Op:     "snapshot",
			Device: c.cfg.CameraDevice,
			Stderr: trimOutput(result.Stderr),
			Err:    err,
		}
	}
	if _, err := c.deps.stat(artifact.Path); err != nil {
		return domain.Artifact{}, &CaptureError{
			Op:     "snapshot",
			Device: c.cfg.CameraDevice,
			Err:    fmt.Errorf("ffmpeg completed but frame is missing: %w", err),
		}
	}
	return artifact, nil
}

// Capture adapts Snapshot to the sampler contract.
func (c *Camera) Capture(ctx context.Context) (*domain.Artifact, error) {
	artifact, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Close releases the camera. Safe to call more than once.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = false
	return nil
}

// Microphone records rolling audio clips from an input device.
type Microphone struct {
	cfg     Config
	starter processStarter
	deps    deps

	mu        sync.Mutex
	armed     bool
	recording bool
	current   process
	clip      domain.Artifact
}

// NewMicrophone creates a microphone backed by ffmpeg.
func NewMicrophone(cfg Config) *Microphone {
	return &Microphone{cfg: cfg.withDefaults(), starter: &execStarter{}, deps: osDeps()}
}

// Start begins recording. Starting while already recording is a no-op.
func (m *Microphone) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = true
	if m.recording {
		return nil
	}
	return m.startLocked()
}

// Stop ends the current recording and returns the finished clip, or nil
// when nothing was recording.
func (m *Microphone) Stop(ctx context.Context) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = false
	if !m.recording {
		return nil, nil
	}
	return m.stopLocked()
}

// Cut finishes the current clip and immediately starts the next one. It
// returns nil when the microphone was not started. When restarting fails the
// finished clip is still returned and the next Cut retries the start.
func (m *Microphone) Cut(ctx context.Context) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed {
		return nil, nil
	}
	if !m.recording {
		return nil, m.startLocked()
	}

	clip, err := m.stopLocked()
	if ctx.Err() == nil {
		if startErr := m.startLocked(); startErr != nil {
			m.cfg.Logger.Warn("microphone restart failed", "device", m.cfg.MicrophoneDevice, "error", startErr)
		}
	}
	return clip, err
}

// Capture adapts Cut to the sampler contract.
func (m *Microphone) Capture(ctx context.Context) (*domain.Artifact, error) {
	return m.Cut(ctx)
}

// Recording reports whether a clip is currently being recorded.
func (m *Microphone) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Microphone) startLocked() error {
	if err := m.deps.mkdirAll(m.cfg.Dir, 0o755); err != nil {
		return &CaptureError{Op: "record", Device: m.cfg.MicrophoneDevice, Err: fmt.Errorf("create artifact dir: %w", err)}
	}

	clip := newArtifact(m.deps, m.cfg.Dir, domain.ChannelAudio, ".wav")
	proc, err := m.starter.Start(m.cfg.FFmpegPath, buildRecordArgs(m.deps.goos, m.cfg.MicrophoneDevice, clip.Path)...)
	if err != nil {
		return &CaptureError{Op: "record", Device: m.cfg.MicrophoneDevice, Err: err}
	}

	m.current = proc
	m.clip = clip
	m.recording = true
	return nil
}

func (m *Microphone) stopLocked() (*domain.Artifact, error) {
	proc, clip := m.current, m.clip
	m.current = nil
	m.clip = domain.Artifact{}
	m.recording = false

	if err := proc.Stop(); err != nil {
		_ = ignoreMissing(m.deps.remove(clip.Path))
		return nil, &CaptureError{Op: "stop", Device: m.cfg.MicrophoneDevice, Err: err}
	}
	if _, err := m.deps.stat(clip.Path); err != nil {
		return nil, &CaptureError{
			Op:     "stop",
			Device: m.cfg.MicrophoneDevice,
			Err:    fmt.Errorf("recorder stopped but clip is missing: %w", err),
		}
	}
	return &clip, nil
}

func newArtifact(d deps, dir string, ch domain.Channel, ext string) domain.Artifact {
	id := d.newID()
	return domain.Artifact{
		ID:        id,
		Channel:   ch,
		Path:      filepath.Join(dir, string(ch)+"-"+id+ext),
		CreatedAt: d.now(),
	}
}

func ignoreMissing(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// NewCameraForTests constructs a camera with injectable dependencies.
func NewCameraForTests(cfg Config, goos string, runner commandRunner, stat func(string) (os.FileInfo, error)) *Camera {
	d := osDeps()
	d.goos = goos
	d.stat = stat
	return &Camera{cfg: cfg.withDefaults(), runner: runner, deps: d}
}

// NewMicrophoneForTests constructs a microphone with an injectable recorder.
func NewMicrophoneForTests(cfg Config, goos string, starter processStarter) *Microphone {
	d := osDeps()
	d.goos = goos
	return &Microphone{cfg: cfg.withDefaults(), starter: starter, deps: d}
}
