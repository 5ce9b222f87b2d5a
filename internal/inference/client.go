// Package inference submits captured artifacts to the remote emotion classifier.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emotion-monitor/internal/domain"
)

// Classifier performs a single classification attempt.
type Classifier interface {
	Classify(ctx context.Context, artifact domain.Artifact) (domain.ClassificationResult, error)
}

type endpoint struct {
	path        string
	field       string
	filename    string
	contentType string
}

var endpoints = map[domain.Channel]endpoint{
	domain.ChannelVisual: {path: "/predict-face", field: "image_file", filename: "image.jpg", contentType: "image/jpeg"},
	domain.ChannelAudio:  {path: "/predict-audio", field: "audio_file", filename: "audio.wav", contentType: "audio/wav"},
}

// predictionResponse is the classifier JSON reply.
type predictionResponse struct {
	Emotion       string             `json:"emotion"`
	Confidence    *float64           `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Error         string             `json:"error"`
}

// videoResponse is the /process-video JSON reply.
type videoResponse struct {
	Status         string  `json:"status"`
	Filename       string  `json:"filename"`
	ProcessingTime float64 `json:"processing_time_seconds"`
	JobID          string  `json:"job_id"`
	Error          string  `json:"error"`
	Analysis       struct {
		ProcessedFrames int                `json:"processed_frames"`
		TotalFrames     int                `json:"total_frames"`
		DominantEmotion string             `json:"dominant_emotion"`
		Distribution    map[string]float64 `json:"emotion_distribution"`
	} `json:"analysis"`
}

// HTTPClient talks to the classifier over multipart HTTP uploads.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPClient creates a client for the given backend base URL. Per-request
// deadlines come from the caller's context.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Classify uploads one artifact to the channel's prediction endpoint.
func (c *HTTPClient) Classify(ctx context.Context, artifact domain.Artifact) (domain.ClassificationResult, error) {
	op := "classify " + string(artifact.Channel)
	ep, ok := endpoints[artifact.Channel]
	if !ok {
		return domain.ClassificationResult{}, &PermanentError{Op: op, Err: fmt.Errorf("unknown channel %q", artifact.Channel)}
	}

	resp, err := c.upload(ctx, op, ep.path, ep.field, ep.filename, ep.contentType, artifact.Path, nil, nil)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		return domain.ClassificationResult{}, err
	}

	var payload predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ClassificationResult{}, &PermanentError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	result, err := toResult(artifact.Channel, payload, c.now())
	if err != nil {
		return domain.ClassificationResult{}, &PermanentError{Op: op, Err: err}
	}
	return result, nil
}

// VideoOption customizes a video upload.
type VideoOption func(*videoOptions)

type videoOptions struct {
	onUploaded func()
}

// OnUploaded registers fn to run once the video body has been fully sent.
func OnUploaded(fn func()) VideoOption {
	return func(o *videoOptions) { o.onUploaded = fn }
}

// AnalyzeVideo uploads a video file and returns the frame-by-frame summary.
func (c *HTTPClient) AnalyzeVideo(ctx context.Context, path string, sampleRate int, opts ...VideoOption) (domain.VideoAnalysis, error) {
	const op = "analyze video"
	if sampleRate <= 0 {
		sampleRate = 1
	}
	var o videoOptions
	for _, opt := range opts {
		opt(&o)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fields := map[string]string{"sample_rate": strconv.Itoa(sampleRate)}
	resp, err := c.upload(ctx, op, "/process-video", "video_file", filepath.Base(path), contentType, path, fields, o.onUploaded)
	if err != nil {
		return domain.VideoAnalysis{}, err
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		return domain.VideoAnalysis{}, err
	}

	var payload videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.VideoAnalysis{}, &PermanentError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Status != "" && payload.Status != "success" {
		return domain.VideoAnalysis{}, &PermanentError{Op: op, Err: errors.New(payload.Error)}
	}

	return domain.VideoAnalysis{
		Filename:        payload.Filename,
		DominantEmotion: payload.Analysis.DominantEmotion,
		Distribution:    payload.Analysis.Distribution,
		ProcessedFrames: payload.Analysis.ProcessedFrames,
		TotalFrames:     payload.Analysis.TotalFrames,
		ProcessingTime:  payload.ProcessingTime,
		JobID:           payload.JobID,
	}, nil
}

// upload streams one file as a multipart form without buffering it in memory.
func (c *HTTPClient) upload(
	ctx context.Context,
	op, path, field, filename, contentType, filePath string,
	fields map[string]string,
	onUploaded func(),
) (*http.Response, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, &PermanentError{Op: op, Err: fmt.Errorf("open artifact: %w", err)}
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		err := writeForm(form, field, filename, contentType, file, fields)
		_ = pw.CloseWithError(err)
		if err == nil && onUploaded != nil {
			onUploaded()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, &PermanentError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, &TransientError{Op: op, Err: err}
	}
	return resp, nil
}

func writeForm(form *multipart.Writer, field, filename, contentType string, src io.Reader, fields map[string]string) error {
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return form.Close()
}

// statusError maps non-2xx replies onto the retry taxonomy.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	err := errors.New(message)
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: err}
	default:
		return &PermanentError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
}

// toResult validates a prediction reply. A reply without probabilities
// yields an empty distribution.
func toResult(ch domain.Channel, payload predictionResponse, now time.Time) (domain.ClassificationResult, error) {
	label := strings.TrimSpace(payload.Emotion)
	if label == "" {
		if payload.Error != "" {
			return domain.ClassificationResult{}, errors.New(payload.Error)
		}
		return domain.ClassificationResult{}, errors.New("response has no emotion label")
	}
	if payload.Confidence == nil {
		return domain.ClassificationResult{}, errors.New("response has no confidence")
	}
	if !inUnitRange(*payload.Confidence) {
		return domain.ClassificationResult{}, fmt.Errorf("confidence %v outside [0,1]", *payload.Confidence)
	}

	distribution := make(map[string]float64, len(payload.Probabilities))
	for key, p := range payload.Probabilities {
		if !inUnitRange(p) {
			return domain.ClassificationResult{}, fmt.Errorf("probability of %q is %v, outside [0,1]", key, p)
		}
		distribution[key] = p
	}

	return domain.ClassificationResult{
		Channel:      ch,
		Label:        label,
		Confidence:   *payload.Confidence,
		Distribution: distribution,
		ReceivedAt:   now,
	}, nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
