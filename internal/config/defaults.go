package config

import (
	"os"
	"path/filepath"
	goruntime "runtime"

	"emotion-monitor/internal/domain"
)

// EnvAPIBaseURL overrides the persisted inference backend address.
const EnvAPIBaseURL = "EMOTION_API_BASE_URL"

const (
	DefaultAPIBaseURL       = "http://127.0.0.1:5001"
	DefaultVisualIntervalMS = 2000
	DefaultAudioIntervalMS  = 3000
	DefaultHealthIntervalMS = 30000
	DefaultRequestTimeoutMS = 10000
	DefaultMaxRetries       = 2
	DefaultRetryDelayMS     = 1000
	DefaultMQTTTopic        = "emotion/results"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	camera, microphone := DefaultDevices(goruntime.GOOS)
	return domain.Settings{
		APIBaseURL:       DefaultAPIBaseURL,
		ArtifactDir:      filepath.Join(homeDir, ".emotion-monitor", "artifacts"),
		CameraDevice:     camera,
		MicrophoneDevice: microphone,
		VisualIntervalMS: DefaultVisualIntervalMS,
		AudioIntervalMS:  DefaultAudioIntervalMS,
		HealthIntervalMS: DefaultHealthIntervalMS,
		RequestTimeoutMS: DefaultRequestTimeoutMS,
		MaxRetries:       DefaultMaxRetries,
		RetryDelayMS:     DefaultRetryDelayMS,
		MQTTTopic:        DefaultMQTTTopic,
	}
}

// DefaultDevices returns the ffmpeg input names of the default camera and microphone.
func DefaultDevices(goos string) (camera, microphone string) {
	switch goos {
	case "darwin":
		return "0", ":0"
	case "windows":
		return "video=Integrated Camera", "audio=Microphone"
	default:
		return "/dev/video0", "default"
	}
}

// Normalize fills zero-valued fields with defaults so older settings files keep working.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	if settings.APIBaseURL == "" {
		settings.APIBaseURL = defaults.APIBaseURL
	}
	if settings.ArtifactDir == "" {
		settings.ArtifactDir = defaults.ArtifactDir
	}
	if settings.CameraDevice == "" {
		settings.CameraDevice = defaults.CameraDevice
	}
	if settings.MicrophoneDevice == "" {
		settings.MicrophoneDevice = defaults.MicrophoneDevice
	}
	if settings.VisualIntervalMS <= 0 {
		settings.VisualIntervalMS = defaults.VisualIntervalMS
	}
	if settings.AudioIntervalMS <= 0 {
		settings.AudioIntervalMS = defaults.AudioIntervalMS
	}
	if settings.HealthIntervalMS <= 0 {
		settings.HealthIntervalMS = defaults.HealthIntervalMS
	}
	if settings.RequestTimeoutMS <= 0 {
		settings.RequestTimeoutMS = defaults.RequestTimeoutMS
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if settings.RetryDelayMS <= 0 {
		settings.RetryDelayMS = defaults.RetryDelayMS
	}
	if settings.MQTTTopic == "" {
		settings.MQTTTopic = defaults.MQTTTopic
	}
	return settings
}
