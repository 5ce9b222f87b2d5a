package bootstrap

import (
	"fmt"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"

	"emotion-monitor/internal/config"
	"emotion-monitor/internal/domain"
)

const videoDeviceGlob = "/dev/video*"

// GetCameraDevices returns detected cameras with the configured one marked.
func (a *App) GetCameraDevices() ([]domain.DeviceOption, error) {
	settings, err := a.loadSettingsForCatalog()
	if err != nil {
		return nil, err
	}
	return listCameraDevices(goruntime.GOOS, filepath.Glob, settings.CameraDevice), nil
}

// SelectCameraDevice persists the chosen camera and refreshes diagnostics.
func (a *App) SelectCameraDevice(path string) (domain.Settings, error) {
	device := strings.TrimSpace(path)
	if device == "" {
		return domain.Settings{}, fmt.Errorf("camera device is required")
	}
	if a.sessionRunning() {
		return domain.Settings{}, errSessionRunning
	}

	settings, err := a.loadSettingsForCatalog()
	if err != nil {
		return domain.Settings{}, err
	}

	settings.CameraDevice = device
	if err := a.Store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.applySettings(settings)
	return settings, nil
}

func (a *App) loadSettingsForCatalog() (domain.Settings, error) {
	if a.Store == nil {
		return domain.Settings{}, fmt.Errorf("settings store is not configured")
	}
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return normalizeSettings(settings), nil
}

// listCameraDevices enumerates /dev/video* on Linux. Other platforms address
// cameras by name or index, so only the platform default is offered.
func listCameraDevices(goos string, glob func(string) ([]string, error), configured string) []domain.DeviceOption {
	var paths []string
	if goos == "linux" {
		matches, err := glob(videoDeviceGlob)
		if err == nil {
			paths = matches
		}
		slices.Sort(paths)
	} else {
		camera, _ := config.DefaultDevices(goos)
		paths = []string{camera}
	}

	configured = strings.TrimSpace(configured)
	devices := make([]domain.DeviceOption, 0, len(paths)+1)
	found := false
	for i, path := range paths {
		selected := path == configured
		found = found || selected
		devices = append(devices, domain.DeviceOption{
			ID:       fmt.Sprintf("camera-%d", i),
			Name:     fmt.Sprintf("Camera %d (%s)", i, path),
			Path:     path,
			Selected: selected,
		})
	}

	if configured != "" && !found {
		devices = append(devices, domain.DeviceOption{
			ID:       "configured",
			Name:     fmt.Sprintf("Configured (%s)", configured),
			Path:     configured,
			Selected: true,
		})
	}
	return devices
}
