package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/audio"
	"github.com/simsketch/avilonai.com/internal/protocol"
)

// JobState follows the lip-sync provider's job lifecycle.
type JobState string

const (
	JobSubmitted  JobState = "SUBMITTED"
	JobProcessing JobState = "PROCESSING"
	JobSucceeded  JobState = "SUCCEEDED"
	JobFailed     JobState = "FAILED"
	JobCanceled   JobState = "CANCELED"
)

// JobStatus is one poll result for a submitted job.
type JobStatus struct {
	State    JobState `json:"state"`
	VideoURL string   `json:"video_url"`
	Error    string   `json:"error"`
}

// JobClient is the lip-sync collaborator behind the async clip renderer.
type JobClient interface {
	Submit(ctx context.Context, faceID string, wav []byte, segment bool) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
}

var (
	// ErrLipSyncFailed marks a job the provider reported as failed or canceled.
	ErrLipSyncFailed = errors.New("lip-sync render failed")
	// ErrLipSyncTimeout marks a job still processing when the budget ran out.
	ErrLipSyncTimeout = errors.New("lip-sync render timed out")
)

// ClipConfig bounds the polling loop.
type ClipConfig struct {
	FaceID         string
	PollInterval   time.Duration
	Timeout        time.Duration
	SegmentTimeout time.Duration
	CancelGrace    time.Duration
	// Segment selects the faster low-quality path. Full clips are the
	// default; segment mode suits short replies where latency matters more.
	Segment bool
}

// ClipRenderer submits synthesized audio to a lip-sync job API, polls until
// the clip is ready and announces the video URL to the client.
type ClipRenderer struct {
	jobs JobClient
	cfg  ClipConfig
	log  zerolog.Logger
}

func NewClipRenderer(jobs JobClient, cfg ClipConfig, log zerolog.Logger) *ClipRenderer {
	if cfg.PollInterval < 500*time.Millisecond {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 60 * time.Second
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	return &ClipRenderer{jobs: jobs, cfg: cfg, log: log}
}

func (r *ClipRenderer) Render(ctx context.Context, u Utterance, sink Sink) error {
	videoURL, err := r.RenderClip(ctx, u)
	if err != nil {
		return err
	}
	return sink.Send(protocol.VideoReady{
		Type:      protocol.TypeVideoReady,
		SessionID: u.SessionID,
		TurnID:    u.TurnID,
		VideoURL:  videoURL,
	})
}

// RenderClip runs the full job state machine and returns the video URL.
func (r *ClipRenderer) RenderClip(ctx context.Context, u Utterance) (string, error) {
	if len(u.PCM) == 0 {
		return "", fmt.Errorf("%w: no audio to render", ErrLipSyncFailed)
	}

	wav, err := audio.EncodeWAVPCM16LE(u.PCM, u.SampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: encode wav: %v", ErrLipSyncFailed, err)
	}

	budget := r.cfg.Timeout
	if r.cfg.Segment {
		budget = r.cfg.SegmentTimeout
	}
	deadline := time.Now().Add(budget)

	jobID, err := r.jobs.Submit(ctx, r.cfg.FaceID, wav, r.cfg.Segment)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrLipSyncFailed, err)
	}
	log := r.log.With().Str("session_id", u.SessionID).Str("job_id", jobID).Logger()
	log.Debug().Dur("budget", budget).Msg("clip job submitted")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.cancelJob(jobID)
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := r.jobs.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				r.cancelJob(jobID)
				return "", ctx.Err()
			}
			// Transient poll failures ride out the remaining budget.
			log.Debug().Err(err).Msg("clip status poll failed")
		} else {
			switch status.State {
			case JobSucceeded:
				if status.VideoURL == "" {
					return "", fmt.Errorf("%w: succeeded without video url", ErrLipSyncFailed)
				}
				log.Info().Msg("clip job succeeded")
				return status.VideoURL, nil
			case JobFailed:
				return "", fmt.Errorf("%w: %s", ErrLipSyncFailed, status.Error)
			case JobCanceled:
				return "", fmt.Errorf("%w: job canceled", ErrLipSyncFailed)
			case JobSubmitted, JobProcessing:
				// keep polling
			default:
				log.Warn().Str("state", string(status.State)).Msg("unknown clip job state")
			}
		}

		if time.Now().After(deadline) {
			r.cancelJob(jobID)
			return "", fmt.Errorf("%w after %s", ErrLipSyncTimeout, budget)
		}
	}
}

// cancelJob uses a detached context so teardown still reaches the provider
// when the caller is already canceled.
func (r *ClipRenderer) cancelJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CancelGrace)
	defer cancel()
	if err := r.jobs.Cancel(ctx, jobID); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("clip job cancel failed")
	}
}

// HTTPJobClient talks to the lip-sync provider's REST API.
type HTTPJobClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPJobClient(baseURL, apiKey string) *HTTPJobClient {
	return &HTTPJobClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPJobClient) Submit(ctx context.Context, faceID string, wav []byte, segment bool) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"face_id":      faceID,
		"audio_base64": wav,
		"still_mode":   segment,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", payload, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("job api returned empty job id")
	}
	return out.JobID, nil
}

// CreateFace registers a face image with the provider and returns the face id
// later clip submissions reference.
func (c *HTTPJobClient) CreateFace(ctx context.Context, name, imageBase64 string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"name":         name,
		"image_base64": imageBase64,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out struct {
		FaceID string `json:"face_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/faces", payload, &out); err != nil {
		return "", err
	}
	if out.FaceID == "" {
		return "", fmt.Errorf("face api returned empty face id")
	}
	return out.FaceID, nil
}

func (c *HTTPJobClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

func (c *HTTPJobClient) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

func (c *HTTPJobClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("job api status %d: %s", res.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
