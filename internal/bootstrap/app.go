package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"golang.org/x/sync/errgroup"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/config"
	"emotion-monitor/internal/connectivity"
	"emotion-monitor/internal/diagnostics"
	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/emitter"
	"emotion-monitor/internal/events"
	"emotion-monitor/internal/feed"
	"emotion-monitor/internal/inference"
	"emotion-monitor/internal/jobs"
	"emotion-monitor/internal/permissions"
	"emotion-monitor/internal/presenter"
	"emotion-monitor/internal/session"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// SessionEventName is the runtime event carrying every published bus event.
const SessionEventName = "session:event"

const maxEvents = 1000

var errSessionRunning = errors.New("a session is already running")

// App wires configuration, capture sessions, video jobs, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	logger      *slog.Logger
	clock       clock.Clock

	events    *events.Bus
	presenter *presenter.Presenter
	consent   *permissions.ConsentStore
	video     *jobs.VideoRunner

	// sessionMu serializes session start and stop.
	sessionMu sync.Mutex

	mu         sync.Mutex
	svc        *services
	session    *session.Coordinator
	lanes      laneStats
	runtimeCtx context.Context
	background context.Context
	stopBg     context.CancelFunc
	stopProbe  context.CancelFunc
	bg         errgroup.Group
}

// services are the backend clients derived from settings.
type services struct {
	client  *inference.HTTPClient
	gateway *inference.Gateway
	monitor *connectivity.Monitor
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(appDir(homeDir), "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	checker := diagnostics.NewChecker()

	a := newApp(store, settings, clock.Real{}, logger)
	a.assets = assets
	a.checker = checker
	a.Diagnostics = checker.Run(settings)
	a.events.Subscribe(a.emit)
	return a, nil
}

// newApp assembles the long-lived components shared by every session.
func newApp(store config.Store, settings domain.Settings, clk clock.Clock, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Settings:  settings,
		Store:     store,
		logger:    logger,
		clock:     clk,
		events:    events.NewBus(maxEvents),
		presenter: presenter.New(clk),
	}
	a.svc = newServices(settings, clk, logger)
	a.consent = permissions.NewConsentStore(store, a.promptDevice)
	a.video = jobs.NewVideoRunner(jobs.NewManager(), videoAnalyzer{app: a}, a.events, logger)
	return a
}

func newServices(settings domain.Settings, clk clock.Clock, logger *slog.Logger) *services {
	timeout := millis(settings.RequestTimeoutMS)
	client := inference.NewHTTPClient(settings.APIBaseURL, &http.Client{})
	return &services{
		client: client,
		gateway: inference.NewGateway(client, inference.Options{
			MaxRetries:     settings.MaxRetries,
			RetryDelay:     millis(settings.RetryDelayMS),
			RequestTimeout: timeout,
			Logger:         logger,
		}),
		monitor: connectivity.NewMonitor(
			connectivity.NewHTTPProber(settings.APIBaseURL, timeout),
			millis(settings.HealthIntervalMS),
			clk,
			logger,
		),
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Emotion Monitor",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and starts background services:
// the health monitor, and the live feed and MQTT publisher when configured.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
	a.background, a.stopBg = context.WithCancel(context.Background())
	a.startMonitorLocked()

	settings := a.Settings
	if addr := strings.TrimSpace(settings.FeedAddr); addr != "" {
		a.startFeedLocked(addr)
	}
	if broker := strings.TrimSpace(settings.MQTTBroker); broker != "" {
		a.startEmitterLocked(broker, settings.MQTTTopic)
	}
}

// Shutdown tears down the session, cancels video analysis and waits for
// background services.
func (a *App) Shutdown(context.Context) {
	if err := a.StopSession(); err != nil && !errors.Is(err, session.ErrTornDown) {
		a.logger.Warn("stop session on shutdown", "error", err)
	}
	if err := a.video.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		a.logger.Warn("cancel video analysis on shutdown", "error", err)
	}
	a.video.Wait()

	a.mu.Lock()
	stop := a.stopBg
	a.runtimeCtx = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	if err := a.bg.Wait(); err != nil {
		a.logger.Warn("background services stopped", "error", err)
	}
}

func (a *App) startMonitorLocked() {
	if a.background == nil {
		return
	}
	if a.stopProbe != nil {
		a.stopProbe()
	}
	ctx, cancel := context.WithCancel(a.background)
	a.stopProbe = cancel
	monitor := a.svc.monitor
	a.bg.Go(func() error {
		return monitor.Run(ctx)
	})
}

func (a *App) startFeedLocked(addr string) {
	ctx := a.background
	hub := feed.NewHub(a.logger)
	unsubscribe := a.events.Subscribe(hub.Publish)
	a.bg.Go(func() error {
		defer unsubscribe()
		if err := hub.Serve(ctx, addr); err != nil {
			a.logger.Error("live feed stopped", "addr", addr, "error", err)
		}
		return nil
	})
}

func (a *App) startEmitterLocked(broker, topic string) {
	ctx := a.background
	em := emitter.NewMQTTEmitter(emitter.Config{
		Broker:   broker,
		ClientID: "emotion-monitor-" + uuid.NewString(),
		Topic:    topic,
		QoS:      1,
	}, a.logger)
	a.bg.Go(func() error {
		if err := em.Connect(ctx); err != nil {
			a.logger.Error("mqtt publisher disabled", "broker", broker, "error", err)
			return nil
		}
		unsubscribe := a.events.Subscribe(em.Handle)
		em.Run(ctx)
		unsubscribe()
		em.Disconnect()
		return nil
	})
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then rebuilds backend
// clients and refreshes diagnostics. Settings cannot change mid-session.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	if a.sessionRunning() {
		return domain.Settings{}, errSessionRunning
	}

	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.applySettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// SessionEvents returns all events with sequence greater than sinceSeq.
func (a *App) SessionEvents(sinceSeq int64) []events.Event {
	return a.events.Since(sinceSeq)
}

// applySettings swaps in settings and, when no session holds the current
// clients, rebuilds them and restarts the health monitor.
func (a *App) applySettings(settings domain.Settings) {
	running := a.sessionRunning()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	if running {
		return
	}
	a.svc = newServices(settings, a.clock, a.logger)
	a.startMonitorLocked()
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// emit forwards bus events to the frontend.
func (a *App) emit(event events.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, SessionEventName, event)
	}
}

// promptDevice asks the user through a native dialog for device access.
func (a *App) promptDevice(_ context.Context, device domain.Device) (bool, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return false, err
	}

	answer, err := wailsruntime.MessageDialog(ctx, wailsruntime.MessageDialogOptions{
		Type:          wailsruntime.QuestionDialog,
		Title:         "Allow " + string(device) + " access",
		Message:       fmt.Sprintf("Emotion Monitor samples your %s and sends the samples to the configured backend for classification. Allow access?", device),
		Buttons:       []string{"Allow", "Deny"},
		DefaultButton: "Allow",
		CancelButton:  "Deny",
	})
	if err != nil {
		return false, fmt.Errorf("%s permission dialog: %w", device, err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "allow", "yes", "ok":
		return true, nil
	default:
		return false, nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func (a *App) services() *services {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.svc
}

// normalizeSettings trims user inputs and fills defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.APIBaseURL = strings.TrimRight(strings.TrimSpace(settings.APIBaseURL), "/")
	settings.ArtifactDir = strings.TrimSpace(settings.ArtifactDir)
	settings.CameraDevice = strings.TrimSpace(settings.CameraDevice)
	settings.MicrophoneDevice = strings.TrimSpace(settings.MicrophoneDevice)
	settings.FeedAddr = strings.TrimSpace(settings.FeedAddr)
	settings.MQTTBroker = strings.TrimSpace(settings.MQTTBroker)
	settings.MQTTTopic = strings.Trim(strings.TrimSpace(settings.MQTTTopic), "/")
	return config.Normalize(settings)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func appDir(homeDir string) string {
	return filepath.Join(homeDir, ".emotion-monitor")
}
