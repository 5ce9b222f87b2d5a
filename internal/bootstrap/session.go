package bootstrap

import (
	"context"
	"fmt"

	"emotion-monitor/internal/capture"
	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/inference"
	"emotion-monitor/internal/presenter"
	"emotion-monitor/internal/scheduler"
	"emotion-monitor/internal/session"
)

// laneStats exposes per-lane counters of the running scheduler.
type laneStats interface {
	Stats(ch domain.Channel) scheduler.Stats
}

// SessionView is the polled snapshot of the realtime screen.
type SessionView struct {
	SessionID         string                   `json:"sessionId,omitempty"`
	Running           bool                     `json:"running"`
	State             domain.SessionState      `json:"state"`
	MicrophoneGranted bool                     `json:"microphoneGranted"`
	Connectivity      domain.ConnectivityState `json:"connectivity"`
	ModelsLoaded      map[string]bool          `json:"modelsLoaded,omitempty"`
	Channels          []ChannelView            `json:"channels"`
}

// ChannelView pairs a channel's presented result with its lane and error counters.
type ChannelView struct {
	presenter.View
	Lane   scheduler.Stats       `json:"lane"`
	Errors inference.ErrorStatus `json:"errors"`
}

// StartSession opens a new capture session. Camera consent is required;
// microphone consent is optional and only gates the audio channel.
func (a *App) StartSession() (SessionView, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if a.sessionRunning() {
		return a.GetView(), errSessionRunning
	}

	a.mu.Lock()
	settings := a.Settings
	svc := a.svc
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, ch := range domain.Channels {
		svc.gateway.Reset(ch)
	}

	coordinator, lanes := a.buildSession(settings, svc)
	if err := coordinator.Start(ctx); err != nil {
		return a.GetView(), fmt.Errorf("start session: %w", err)
	}

	a.mu.Lock()
	a.session = coordinator
	a.lanes = lanes
	a.mu.Unlock()

	a.logger.Info("session started", "session", coordinator.ID())
	return a.GetView(), nil
}

// StopSession tears down the running session and waits for in-flight cycles.
func (a *App) StopSession() error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	a.mu.Lock()
	coordinator := a.session
	a.mu.Unlock()
	if coordinator == nil {
		return session.ErrTornDown
	}

	err := coordinator.Stop()
	coordinator.Wait()
	a.logger.Info("session stopped", "session", coordinator.ID())
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

// SetVisualEnabled toggles the camera channel of the running session.
func (a *App) SetVisualEnabled(enabled bool) (SessionView, error) {
	coordinator, err := a.currentSession()
	if err != nil {
		return a.GetView(), err
	}
	if err := coordinator.SetVisualEnabled(enabled); err != nil {
		return a.GetView(), err
	}
	return a.GetView(), nil
}

// SetAudioEnabled toggles the microphone channel of the running session.
func (a *App) SetAudioEnabled(enabled bool) (SessionView, error) {
	coordinator, err := a.currentSession()
	if err != nil {
		return a.GetView(), err
	}
	if err := coordinator.SetAudioEnabled(enabled); err != nil {
		return a.GetView(), err
	}
	return a.GetView(), nil
}

// CheckConnection probes the backend immediately.
func (a *App) CheckConnection() domain.ConnectivityState {
	monitor := a.services().monitor
	monitor.CheckNow(context.Background())
	return monitor.State()
}

// GetConnectivity returns the last known backend health.
func (a *App) GetConnectivity() domain.ConnectivityState {
	return a.services().monitor.State()
}

// GetView returns the presented results plus session and connectivity state.
func (a *App) GetView() SessionView {
	a.mu.Lock()
	coordinator := a.session
	lanes := a.lanes
	svc := a.svc
	a.mu.Unlock()

	view := SessionView{
		Connectivity: svc.monitor.State(),
		ModelsLoaded: svc.monitor.Report().ModelsLoaded,
	}
	if coordinator != nil {
		view.SessionID = coordinator.ID()
		view.State = coordinator.State()
		view.Running = !view.State.TornDown
		view.MicrophoneGranted = coordinator.MicrophoneGranted()
	}

	for _, presented := range a.presenter.Views() {
		channel := ChannelView{View: presented}
		if lanes != nil && view.Running {
			channel.Lane = lanes.Stats(presented.Channel)
		} else {
			channel.Lane = scheduler.Stats{Channel: presented.Channel, Status: domain.ChannelStatusIdle}
		}
		channel.Errors = svc.gateway.Status(presented.Channel)
		view.Channels = append(view.Channels, channel)
	}
	return view
}

// buildSession wires real devices, the gateway and a scheduler into a coordinator.
func (a *App) buildSession(settings domain.Settings, svc *services) (*session.Coordinator, *scheduler.Scheduler) {
	cfg := capture.Config{
		CameraDevice:     settings.CameraDevice,
		MicrophoneDevice: settings.MicrophoneDevice,
		Dir:              settings.ArtifactDir,
		Logger:           a.logger,
	}
	camera := capture.NewCamera(cfg)
	microphone := capture.NewMicrophone(cfg)

	var lanes *scheduler.Scheduler
	coordinator := session.New(session.Config{
		Camera:       camera,
		Microphone:   microphone,
		Permissions:  a.consent,
		Connectivity: svc.monitor,
		Presenter:    a.presenter,
		Publisher:    a.events,
		Errors:       svc.gateway,
		Logger:       a.logger,
		NewLanes: func(gate scheduler.Gate, hooks scheduler.Hooks) session.Lanes {
			lanes = scheduler.New(scheduler.Config{
				Clock:     a.clock,
				Submitter: svc.gateway,
				Gate:      gate,
				Hooks:     hooks,
				Logger:    a.logger,
				Lanes: []scheduler.LaneConfig{
					{Channel: domain.ChannelVisual, Interval: millis(settings.VisualIntervalMS), Sampler: camera},
					{Channel: domain.ChannelAudio, Interval: millis(settings.AudioIntervalMS), Sampler: microphone},
				},
			})
			return lanes
		},
	})
	return coordinator, lanes
}

func (a *App) currentSession() (*session.Coordinator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, session.ErrTornDown
	}
	return a.session, nil
}

// sessionRunning never calls into the coordinator under a.mu: coordinator
// hooks publish events that take a.mu.
func (a *App) sessionRunning() bool {
	a.mu.Lock()
	coordinator := a.session
	a.mu.Unlock()
	return coordinator != nil && !coordinator.State().TornDown
}
