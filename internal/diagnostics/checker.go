// Package diagnostics runs startup checks for the capture toolchain and settings.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"emotion-monitor/internal/domain"
)

const (
	ItemFFmpeg      = "tool_ffmpeg"
	ItemCamera      = "camera_device"
	ItemArtifactDir = "artifact_dir"
	ItemAPIURL      = "api_url"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	goos       string
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		goos:       goruntime.GOOS,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkFFmpeg(),
		c.checkCamera(settings.CameraDevice),
		c.checkArtifactDir(settings.ArtifactDir),
		checkAPIURL(settings.APIBaseURL),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkFFmpeg verifies the capture tool is on PATH.
func (c *Checker) checkFFmpeg() domain.DiagnosticItem {
	path, err := c.lookPath("ffmpeg")
	if err != nil {
		return domain.DiagnosticItem{
			ID:      ItemFFmpeg,
			Name:    "ffmpeg",
			Status:  domain.DiagnosticStatusFail,
			Message: "Tool not found in PATH: ffmpeg",
			Hint:    "Install ffmpeg; it captures camera snapshots and microphone clips.",
			Fixable: true,
		}
	}

	return domain.DiagnosticItem{
		ID:      ItemFFmpeg,
		Name:    "ffmpeg",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkCamera verifies the configured camera device. Only Linux exposes
// devices as paths; elsewhere the name is passed to ffmpeg as is.
func (c *Checker) checkCamera(device string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemCamera,
		Name: "Camera device",
	}

	if strings.TrimSpace(device) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Camera device is empty."
		item.Hint = "Select a camera in settings."
		return item
	}

	if c.goos != "linux" {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Configured camera: %s", device)
		return item
	}

	if _, err := c.stat(device); err != nil {
		item.Status = domain.DiagnosticStatusFail
		if IsNotExist(err) {
			item.Message = fmt.Sprintf("Camera device does not exist: %s", device)
		} else {
			item.Message = fmt.Sprintf("Cannot access camera device: %s", device)
		}
		item.Hint = "Connect a camera or pick another /dev/video* device; check membership of the video group."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Camera device found: %s", device)
	return item
}

// checkArtifactDir validates artifact directory existence and write access.
func (c *Checker) checkArtifactDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemArtifactDir,
		Name: "Artifact directory",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Artifact directory is empty."
		item.Hint = "Set a directory for temporary snapshots and clips."
		item.Fixable = true
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create artifact directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.Fixable = true
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Artifact directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for temporary captures."
		item.Fixable = true
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkAPIURL validates the classifier base URL.
func checkAPIURL(raw string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemAPIURL,
		Name: "Classifier URL",
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid classifier URL: %q", raw)
		item.Hint = "Use an address such as http://127.0.0.1:5001."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Classifier at %s", u.String())
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	goos string,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		goos:       goos,
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
