package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"emotion-monitor/internal/domain"
)

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	device := filepath.Join(root, "video0")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("write device: %v", err)
	}

	checker := NewCheckerForTests(
		"linux",
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		APIBaseURL:   "http://127.0.0.1:5001",
		ArtifactDir:  filepath.Join(root, "artifacts"),
		CameraDevice: device,
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		"linux",
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		APIBaseURL:   "localhost:5001",
		CameraDevice: "/dev/does-not-exist",
		ArtifactDir:  "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, ItemFFmpeg, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, ItemCamera, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, ItemArtifactDir, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, ItemAPIURL, domain.DiagnosticStatusFail)
	assertFixable(t, report, ItemFFmpeg, true)
	assertFixable(t, report, ItemArtifactDir, true)
	assertFixable(t, report, ItemCamera, false)
}

// TestCheckerCameraNonLinuxPassesByName skips the device stat.
func TestCheckerCameraNonLinuxPassesByName(t *testing.T) {
	checker := NewCheckerForTests(
		"darwin",
		func(name string) (string, error) { return "/opt/homebrew/bin/" + name, nil },
		func(string) (os.FileInfo, error) { return nil, errors.New("stat must not be called") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	report := checker.Run(domain.Settings{
		APIBaseURL:   "https://emotion.example.org",
		ArtifactDir:  t.TempDir(),
		CameraDevice: "0",
	})

	assertStatusByID(t, report, ItemCamera, domain.DiagnosticStatusPass)
}

// TestCheckerArtifactDirNotWritable reports write failures.
func TestCheckerArtifactDirNotWritable(t *testing.T) {
	checker := NewCheckerForTests(
		"linux",
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		func(string, os.FileMode) error { return nil },
		func(string, string) (*os.File, error) { return nil, os.ErrPermission },
		os.Remove,
	)
	report := checker.Run(domain.Settings{ArtifactDir: "/readonly"})

	assertStatusByID(t, report, ItemArtifactDir, domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}

func assertFixable(t *testing.T, report domain.DiagnosticReport, id string, want bool) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Fixable != want {
				t.Fatalf("item %s fixable = %v, want %v", id, item.Fixable, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
