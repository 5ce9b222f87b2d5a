// Package session owns one realtime monitoring session: permissions, device
// lifecycle, lane activation and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"emotion-monitor/internal/capture"
	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/events"
	"emotion-monitor/internal/inference"
	"emotion-monitor/internal/scheduler"
)

var (
	// ErrPermissionDenied is returned when a required device permission is refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotConnected is returned when enabling a channel while the backend is unreachable.
	ErrNotConnected = errors.New("backend not connected")
	// ErrTornDown is returned by any call on a stopped session.
	ErrTornDown = errors.New("session torn down")
)

// Camera is the session's view of the camera device.
type Camera interface {
	Open(ctx context.Context) error
	Ready() bool
	Close() error
}

// Microphone is the session's view of the microphone device.
type Microphone interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*domain.Artifact, error)
	Recording() bool
}

// Lanes activates and deactivates channel timers.
type Lanes interface {
	Activate(ctx context.Context, ch domain.Channel) error
	Deactivate(ch domain.Channel)
	DeactivateAll()
	Active(ch domain.Channel) bool
	Wait()
}

// Connectivity reports backend reachability.
type Connectivity interface {
	Connected() bool
	Subscribe(fn func(domain.ConnectivityState)) func()
}

// Permissions grants device access.
type Permissions interface {
	Request(ctx context.Context, device domain.Device) (bool, error)
}

// Presenter receives results for display.
type Presenter interface {
	Present(result domain.ClassificationResult)
	Clear()
}

// Publisher receives session events.
type Publisher interface {
	Publish(event events.Event) events.Event
}

// ErrorCounter exposes per-channel failure counts.
type ErrorCounter interface {
	Status(ch domain.Channel) inference.ErrorStatus
}

// Config wires a Coordinator.
type Config struct {
	Camera       Camera
	Microphone   Microphone
	Permissions  Permissions
	Connectivity Connectivity
	Presenter    Presenter
	Publisher    Publisher
	Errors       ErrorCounter
	Logger       *slog.Logger

	// NewLanes builds the scheduler around the coordinator's gate and hooks.
	NewLanes func(gate scheduler.Gate, hooks scheduler.Hooks) Lanes
	// Discard removes a clip that will never be submitted.
	Discard func(path string) error
}

// Coordinator is single-use: once stopped it cannot be started again.
type Coordinator struct {
	id           string
	camera       Camera
	microphone   Microphone
	permissions  Permissions
	connectivity Connectivity
	presenter    Presenter
	publisher    Publisher
	errors       ErrorCounter
	discard      func(path string) error
	logger       *slog.Logger
	lanes        Lanes

	// opMu serializes Start, Stop, toggles and reconciliation.
	opMu        sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu         sync.RWMutex
	state      domain.SessionState
	started    bool
	micGranted bool
}

// New creates an idle coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	discard := cfg.Discard
	if discard == nil {
		discard = capture.Discard
	}

	c := &Coordinator{
		id:           uuid.NewString(),
		camera:       cfg.Camera,
		microphone:   cfg.Microphone,
		permissions:  cfg.Permissions,
		connectivity: cfg.Connectivity,
		presenter:    cfg.Presenter,
		publisher:    cfg.Publisher,
		errors:       cfg.Errors,
		discard:      discard,
	}
	c.logger = logger.With("component", "session", "session", c.id)
	c.lanes = cfg.NewLanes(c.eligible, scheduler.Hooks{
		OnResult: c.handleResult,
		OnError:  c.handleError,
		OnStatus: c.handleStatus,
	})
	return c
}

// ID identifies the session in events.
func (c *Coordinator) ID() string {
	return c.id
}

// State returns a snapshot of the session toggles and readiness.
func (c *Coordinator) State() domain.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MicrophoneGranted reports whether the audio channel is available.
func (c *Coordinator) MicrophoneGranted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.micGranted
}

// Start requests permissions, mounts the camera and begins following
// connectivity. A camera denial fails the start; a microphone denial only
// makes the audio channel unavailable.
func (c *Coordinator) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	tornDown, started := c.state.TornDown, c.started
	c.mu.RUnlock()
	if tornDown {
		return ErrTornDown
	}
	if started {
		return nil
	}

	camOK, err := c.permissions.Request(ctx, domain.DeviceCamera)
	if err != nil {
		return fmt.Errorf("camera permission: %w", err)
	}
	if !camOK {
		c.publishError("", "Camera permission is required to start a session")
		return fmt.Errorf("%w: %s", ErrPermissionDenied, domain.DeviceCamera)
	}

	micOK, err := c.permissions.Request(ctx, domain.DeviceMicrophone)
	if err != nil {
		c.logger.Warn("microphone permission request failed", "error", err)
		micOK = false
	}
	if !micOK {
		c.logger.Info("microphone unavailable, audio channel disabled")
	}

	if err := c.camera.Open(ctx); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.started = true
	c.micGranted = micOK
	c.state.CameraReady = c.camera.Ready()
	c.mu.Unlock()

	c.unsubscribe = c.connectivity.Subscribe(c.onConnectivity)
	c.publishStatus("", "started", "Session started")
	c.reconcileLocked()
	return nil
}

// SetVisualEnabled toggles the visual channel.
func (c *Coordinator) SetVisualEnabled(enabled bool) error {
	return c.setEnabled(domain.ChannelVisual, enabled)
}

// SetAudioEnabled toggles the audio channel.
func (c *Coordinator) SetAudioEnabled(enabled bool) error {
	return c.setEnabled(domain.ChannelAudio, enabled)
}

func (c *Coordinator) setEnabled(ch domain.Channel, enabled bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state.TornDown {
		c.mu.Unlock()
		return ErrTornDown
	}
	if enabled && !c.connectivity.Connected() {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if enabled && ch == domain.ChannelAudio && c.started && !c.micGranted {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPermissionDenied, domain.DeviceMicrophone)
	}
	switch ch {
	case domain.ChannelVisual:
		c.state.VisualEnabled = enabled
	case domain.ChannelAudio:
		c.state.AudioEnabled = enabled
	}
	c.mu.Unlock()

	c.reconcileLocked()
	return nil
}

// Stop tears the session down. It is idempotent. In-flight submissions are
// left to finish but their results are discarded.
func (c *Coordinator) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state.TornDown {
		c.mu.Unlock()
		return nil
	}
	started := c.started
	c.state.TornDown = true
	c.state.VisualEnabled = false
	c.state.AudioEnabled = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.lanes.DeactivateAll()

	var errs []error
	if err := c.stopMicrophone(); err != nil {
		errs = append(errs, err)
	}
	if started {
		if err := c.camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}

	c.mu.Lock()
	c.state.CameraReady = false
	c.mu.Unlock()

	c.presenter.Clear()
	c.publishStatus("", "stopped", "Session stopped")
	return errors.Join(errs...)
}

// Wait blocks until in-flight cycles have finished.
func (c *Coordinator) Wait() {
	c.lanes.Wait()
}

func (c *Coordinator) onConnectivity(state domain.ConnectivityState) {
	c.publisher.Publish(events.Event{
		SessionID:    c.id,
		Type:         events.TypeConnectivity,
		Connectivity: &state,
	})
	if state.Checking {
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.reconcileLocked()
}

// reconcileLocked brings lanes and the microphone in line with the current
// inputs. Callers hold opMu.
func (c *Coordinator) reconcileLocked() {
	c.mu.RLock()
	started, tornDown := c.started, c.state.TornDown
	c.mu.RUnlock()
	if !started || tornDown {
		return
	}

	for _, ch := range domain.Channels {
		want := c.eligible(ch)
		active := c.lanes.Active(ch)

		switch {
		case want && !active:
			if ch == domain.ChannelAudio {
				if err := c.microphone.Start(c.ctx); err != nil {
					c.logger.Warn("start microphone", "error", err)
					c.publishError(ch, err.Error())
					continue
				}
			}
			if err := c.lanes.Activate(c.ctx, ch); err != nil {
				c.logger.Warn("activate lane", "channel", ch, "error", err)
				continue
			}
			c.logger.Info("channel active", "channel", ch)
		case !want && active:
			c.lanes.Deactivate(ch)
			if ch == domain.ChannelAudio {
				if err := c.stopMicrophone(); err != nil {
					c.logger.Warn("stop microphone", "error", err)
				}
			}
			c.logger.Info("channel inactive", "channel", ch)
		case !want && ch == domain.ChannelAudio && c.microphone.Recording():
			if err := c.stopMicrophone(); err != nil {
				c.logger.Warn("stop microphone", "error", err)
			}
		}
	}
}

// eligible is the per-tick gate: enabled, device ready, connected and not
// torn down.
func (c *Coordinator) eligible(ch domain.Channel) bool {
	c.mu.RLock()
	ok := c.started && !c.state.TornDown && c.state.Enabled(ch) && c.state.CameraReady
	if ch == domain.ChannelAudio {
		ok = ok && c.micGranted
	}
	c.mu.RUnlock()

	return ok && c.connectivity.Connected()
}

func (c *Coordinator) stopMicrophone() error {
	clip, err := c.microphone.Stop(context.Background())
	if err != nil {
		return fmt.Errorf("stop microphone: %w", err)
	}
	if clip != nil {
		if err := c.discard(clip.Path); err != nil {
			c.logger.Warn("discard clip", "artifact", clip.ID, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) handleResult(result domain.ClassificationResult) {
	c.mu.RLock()
	tornDown := c.state.TornDown
	if !tornDown {
		c.presenter.Present(result)
	}
	c.mu.RUnlock()

	if tornDown {
		c.logger.Debug("result discarded after teardown", "channel", result.Channel)
		return
	}
	c.publisher.Publish(events.Event{
		SessionID: c.id,
		Type:      events.TypeResult,
		Channel:   result.Channel,
		Result:    &result,
	})
}

func (c *Coordinator) handleError(ch domain.Channel, err error) {
	c.mu.RLock()
	tornDown := c.state.TornDown
	c.mu.RUnlock()
	if tornDown || errors.Is(err, inference.ErrAborted) {
		return
	}
	c.publishError(ch, err.Error())
}

func (c *Coordinator) handleStatus(ch domain.Channel, status domain.ChannelStatus) {
	c.publishStatus(ch, string(status), "")
}

func (c *Coordinator) publishStatus(ch domain.Channel, status, message string) {
	c.publisher.Publish(events.Event{
		SessionID: c.id,
		Type:      events.TypeStatus,
		Channel:   ch,
		Status:    status,
		Message:   message,
	})
}

func (c *Coordinator) publishError(ch domain.Channel, message string) {
	count := 0
	if c.errors != nil && ch != "" {
		count = c.errors.Status(ch).Count
	}
	c.publisher.Publish(events.Event{
		SessionID:  c.id,
		Type:       events.TypeError,
		Channel:    ch,
		Message:    message,
		ErrorCount: count,
	})
}
