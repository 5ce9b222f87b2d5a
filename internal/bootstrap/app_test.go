package bootstrap

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/config"
	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/events"
	"emotion-monitor/internal/session"
)

// fakeStore keeps settings in memory for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

// Load returns the current settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the current settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

func (s *fakeStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newTestApp(t *testing.T, settings domain.Settings) (*App, *fakeStore) {
	t.Helper()
	store := &fakeStore{settings: config.Normalize(settings)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	return newApp(store, store.settings, clk, logger), store
}

// TestGetViewWithoutSession checks the idle screen snapshot.
func TestGetViewWithoutSession(t *testing.T) {
	app, _ := newTestApp(t, domain.Settings{ArtifactDir: t.TempDir()})

	view := app.GetView()
	if view.Running || view.SessionID != "" {
		t.Fatalf("view = %+v, want no session", view)
	}
	if len(view.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(view.Channels))
	}
	for _, ch := range view.Channels {
		if ch.HasResult {
			t.Fatalf("channel %s has a result before any session", ch.Channel)
		}
		if ch.Lane.Status != domain.ChannelStatusIdle {
			t.Fatalf("channel %s lane status = %s, want idle", ch.Channel, ch.Lane.Status)
		}
	}
	if view.Connectivity.Connected {
		t.Fatal("expected disconnected before the first health check")
	}
}

// TestSessionCallsRequireSession checks toggles and stop without a session.
func TestSessionCallsRequireSession(t *testing.T) {
	app, _ := newTestApp(t, domain.Settings{ArtifactDir: t.TempDir()})

	if _, err := app.SetVisualEnabled(true); !errors.Is(err, session.ErrTornDown) {
		t.Fatalf("SetVisualEnabled() error = %v, want %v", err, session.ErrTornDown)
	}
	if _, err := app.SetAudioEnabled(true); !errors.Is(err, session.ErrTornDown) {
		t.Fatalf("SetAudioEnabled() error = %v, want %v", err, session.ErrTornDown)
	}
	if err := app.StopSession(); !errors.Is(err, session.ErrTornDown) {
		t.Fatalf("StopSession() error = %v, want %v", err, session.ErrTornDown)
	}
}

// TestStartSessionFailsWhenCameraMissing checks a failed start leaves no session behind.
func TestStartSessionFailsWhenCameraMissing(t *testing.T) {
	if goruntime.GOOS != "linux" {
		t.Skip("camera device nodes are only checked on linux")
	}
	app, _ := newTestApp(t, domain.Settings{
		ArtifactDir:   t.TempDir(),
		CameraDevice:  filepath.Join(t.TempDir(), "video9"),
		CameraGranted: true,
	})

	if _, err := app.StartSession(); err == nil {
		t.Fatal("expected start error for missing camera device")
	}
	if app.GetView().Running {
		t.Fatal("session must not be running after a failed start")
	}
	if err := app.StopSession(); !errors.Is(err, session.ErrTornDown) {
		t.Fatalf("StopSession() error = %v, want %v", err, session.ErrTornDown)
	}
}

// TestStartSessionClearsPreviousErrorCounters checks a new session starts from zero errors.
func TestStartSessionClearsPreviousErrorCounters(t *testing.T) {
	if goruntime.GOOS != "linux" {
		t.Skip("camera device nodes are only checked on linux")
	}
	app, _ := newTestApp(t, domain.Settings{
		ArtifactDir:   t.TempDir(),
		CameraDevice:  filepath.Join(t.TempDir(), "video9"),
		CameraGranted: true,
	})
	gateway := app.services().gateway
	for _, ch := range domain.Channels {
		gateway.RecordError(ch, errors.New("capture interrupted"))
	}

	_, _ = app.StartSession()

	for _, ch := range app.GetView().Channels {
		if ch.Errors.Count != 0 {
			t.Fatalf("channel %s errors = %+v, want zero", ch.Channel, ch.Errors)
		}
	}
}

// TestSaveSettingsNormalizesAndRebuildsClients checks persisted values and client swap.
func TestSaveSettingsNormalizesAndRebuildsClients(t *testing.T) {
	app, store := newTestApp(t, domain.Settings{ArtifactDir: t.TempDir()})
	before := app.services()

	saved, err := app.SaveSettings(domain.Settings{
		APIBaseURL:  " http://10.1.1.2:5001/ ",
		ArtifactDir: " " + t.TempDir() + " ",
		MQTTTopic:   "/emotion/lab/",
	})
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	if saved.APIBaseURL != "http://10.1.1.2:5001" {
		t.Fatalf("api base url = %q", saved.APIBaseURL)
	}
	if saved.MQTTTopic != "emotion/lab" {
		t.Fatalf("mqtt topic = %q", saved.MQTTTopic)
	}
	if saved.VisualIntervalMS != config.DefaultVisualIntervalMS {
		t.Fatalf("visual interval = %d, want default", saved.VisualIntervalMS)
	}
	if store.Saves() != 1 {
		t.Fatalf("saves = %d, want 1", store.Saves())
	}
	if app.services() == before {
		t.Fatal("expected backend clients rebuilt from new settings")
	}
}

// TestAnalyzeVideoPublishesResult checks the video job path end to end.
func TestAnalyzeVideoPublishesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("sample_rate"); got != "5" {
			t.Errorf("sample_rate = %q, want default 5", got)
		}
		_, _ = io.WriteString(w, `{"status":"success","filename":"class.mp4","processing_time_seconds":1.2,
			"analysis":{"processed_frames":10,"total_frames":50,"dominant_emotion":"aggressive","emotion_distribution":{"aggressive":100}}}`)
	}))
	defer server.Close()

	app, _ := newTestApp(t, domain.Settings{APIBaseURL: server.URL, ArtifactDir: t.TempDir()})
	path := filepath.Join(t.TempDir(), "class.mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := app.AnalyzeVideo(path, 0)
	if err != nil {
		t.Fatalf("AnalyzeVideo() error = %v", err)
	}
	if job.ID == "" || job.Path != path {
		t.Fatalf("job = %+v", job)
	}

	app.video.Wait()
	if got := app.CurrentVideoJob().Status; got != domain.JobStatusDone {
		t.Fatalf("job status = %s, want done", got)
	}

	var summary *domain.VideoAnalysis
	for _, event := range app.SessionEvents(0) {
		if event.Type == events.TypeVideo && event.Video != nil {
			summary = event.Video
		}
	}
	if summary == nil || summary.DominantEmotion != "aggressive" || summary.ProcessedFrames != 10 {
		t.Fatalf("video summary = %+v", summary)
	}
}

// TestCancelVideoAnalysisWithoutJob checks cancel guard.
func TestCancelVideoAnalysisWithoutJob(t *testing.T) {
	app, _ := newTestApp(t, domain.Settings{ArtifactDir: t.TempDir()})
	if err := app.CancelVideoAnalysis(); err == nil {
		t.Fatal("expected error without a running job")
	}
}
