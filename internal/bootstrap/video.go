package bootstrap

import (
	"context"
	"strings"

	"emotion-monitor/internal/domain"
	"emotion-monitor/internal/inference"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// defaultSampleRate analyzes every fifth frame.
const defaultSampleRate = 5

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// videoAnalyzer resolves the current backend client for each job.
type videoAnalyzer struct {
	app *App
}

func (v videoAnalyzer) AnalyzeVideo(
	ctx context.Context,
	path string,
	sampleRate int,
	opts ...inference.VideoOption,
) (domain.VideoAnalysis, error) {
	return v.app.services().client.AnalyzeVideo(ctx, path, sampleRate, opts...)
}

// PickVideoFile opens a native file dialog for video selection.
func (a *App) PickVideoFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video file",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// AnalyzeVideo uploads a video for frame-by-frame analysis in the background.
// Progress and the final summary arrive as video events.
func (a *App) AnalyzeVideo(path string, sampleRate int) (domain.Job, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return a.video.Start(strings.TrimSpace(path), sampleRate)
}

// CancelVideoAnalysis cancels the running video job, if any.
func (a *App) CancelVideoAnalysis() error {
	return a.video.Cancel()
}

// CurrentVideoJob returns current video job metadata and status.
func (a *App) CurrentVideoJob() domain.Job {
	return a.video.Current()
}
