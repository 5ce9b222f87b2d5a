package domain

import "time"

// Channel identifies one of the two independent sampling pipelines.
type Channel string

const (
	ChannelVisual Channel = "visual"
	ChannelAudio  Channel = "audio"
)

// Channels lists every sampling channel in display order.
var Channels = []Channel{ChannelVisual, ChannelAudio}

// ChannelStatus tracks where a channel is within one capture cycle.
type ChannelStatus string

const (
	ChannelStatusIdle       ChannelStatus = "idle"
	ChannelStatusScheduled  ChannelStatus = "scheduled"
	ChannelStatusCapturing  ChannelStatus = "capturing"
	ChannelStatusSubmitting ChannelStatus = "submitting"
)

// Device names a capture device guarded by a permission.
type Device string

const (
	DeviceCamera     Device = "camera"
	DeviceMicrophone Device = "microphone"
)

// Artifact is a captured local file awaiting submission to a classifier.
type Artifact struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClassificationResult is one classifier verdict for a channel.
type ClassificationResult struct {
	Channel      Channel            `json:"channel"`
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
	ReceivedAt   time.Time          `json:"receivedAt"`
}

// ConnectivityState reports the last known health of the inference backend.
type ConnectivityState struct {
	Connected     bool      `json:"connected"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
	Checking      bool      `json:"checking"`
}

// SessionState holds the user toggles and device readiness of one session.
type SessionState struct {
	VisualEnabled bool `json:"visualEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	CameraReady   bool `json:"cameraReady"`
	TornDown      bool `json:"tornDown"`
}

// Enabled reports whether the user opted in to the given channel.
func (s SessionState) Enabled(ch Channel) bool {
	switch ch {
	case ChannelVisual:
		return s.VisualEnabled
	case ChannelAudio:
		return s.AudioEnabled
	default:
		return false
	}
}

// VideoAnalysis summarizes an uploaded video processed frame by frame.
type VideoAnalysis struct {
	Filename        string             `json:"filename"`
	DominantEmotion string             `json:"dominantEmotion"`
	Distribution    map[string]float64 `json:"distribution"`
	ProcessedFrames int                `json:"processedFrames"`
	TotalFrames     int                `json:"totalFrames"`
	ProcessingTime  float64            `json:"processingTimeSeconds"`
	JobID           string             `json:"jobId,omitempty"`
}

// JobStatus tracks each stage of a single video analysis job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusUploading JobStatus = "uploading"
	JobStatusAnalyzing JobStatus = "analyzing"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
	Path   string    `json:"path,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIBaseURL        string `json:"apiBaseUrl"`
	ArtifactDir       string `json:"artifactDir"`
	CameraDevice      string `json:"cameraDevice"`
	MicrophoneDevice  string `json:"microphoneDevice"`
	CameraGranted     bool   `json:"cameraGranted"`
	MicrophoneGranted bool   `json:"microphoneGranted"`
	VisualIntervalMS  int    `json:"visualIntervalMs"`
	AudioIntervalMS   int    `json:"audioIntervalMs"`
	HealthIntervalMS  int    `json:"healthIntervalMs"`
	RequestTimeoutMS  int    `json:"requestTimeoutMs"`
	MaxRetries        int    `json:"maxRetries"`
	RetryDelayMS      int    `json:"retryDelayMs"`
	FeedAddr          string `json:"feedAddr,omitempty"`
	MQTTBroker        string `json:"mqttBroker,omitempty"`
	MQTTTopic         string `json:"mqttTopic,omitempty"`
}

// DeviceOption is one selectable capture device.
type DeviceOption struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Selected bool   `json:"selected"`
}
