package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/models"
)

// ---------------------------------------------------------------------------
// Scout footage search
// Runs the sieve/scout-search function over Sieve's job API:
// push a job → poll by id → read the first result.
// ---------------------------------------------------------------------------

const (
	scoutDefaultBaseURL = "https://mango.sievedata.com"
	scoutFunction       = "sieve/scout-search"
)

var scoutPollPolicy = pollPolicy{
	initialDelay: 2 * time.Second, // Searches usually finish within a few seconds
	minInterval:  1 * time.Second,
	maxInterval:  8 * time.Second,
	factor:       1.5,
	timeout:      2 * time.Minute,
}

// ScoutService implements footage.Resolver against the scout search function.
type ScoutService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	poll       pollPolicy
}

func NewScoutService(baseURL, apiKey string) *ScoutService {
	if baseURL == "" {
		baseURL = scoutDefaultBaseURL
	}
	return &ScoutService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Per request, not the full poll cycle
		},
		poll: scoutPollPolicy,
	}
}

// scoutInputs mirrors the function's parameters. -1 means unbounded.
type scoutInputs struct {
	Query               string   `json:"query"`
	NumResults          int      `json:"num_results"`
	FormatResults       string   `json:"format_results"`
	MinRelevanceScore   float64  `json:"min_relevance_score"`
	AspectRatio         []string `json:"aspect_ratio"`
	OnlyCreativeCommons bool     `json:"only_creative_commons"`
	ExcludeBlackBar     bool     `json:"exclude_black_bar"`
	ExcludeStatic       bool     `json:"exclude_static"`
	ExcludeOverlay      bool     `json:"exclude_overlay"`
	MinQualityScore     float64  `json:"min_quality_score"`
	MaxQualityScore     float64  `json:"max_quality_score"`
	MinVideoWidth       int      `json:"min_video_width"`
	MaxVideoWidth       int      `json:"max_video_width"`
	MinVideoHeight      int      `json:"min_video_height"`
	MaxVideoHeight      int      `json:"max_video_height"`
	MinMotionScore      float64  `json:"min_motion_score"`
	MaxMotionScore      float64  `json:"max_motion_score"`
	MinDuration         float64  `json:"min_duration"`
	MaxDuration         float64  `json:"max_duration"`
}

type scoutPushRequest struct {
	Function string      `json:"function"`
	Inputs   scoutInputs `json:"inputs"`
}

type scoutPushResponse struct {
	ID string `json:"id"`
}

// scoutJob is GET /v2/jobs/{id}. Status moves queued → processing → finished|error.
type scoutJob struct {
	Status  string        `json:"status"`
	Outputs []scoutOutput `json:"outputs"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type scoutOutput struct {
	Data []scoutResult `json:"data"`
}

type scoutResult struct {
	URL            string  `json:"url"`
	Path           string  `json:"path"`
	Duration       float64 `json:"duration"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	RelevanceScore float64 `json:"relevance_score"`
	QualityScore   float64 `json:"quality_score"`
}

func buildScoutInputs(q footage.Query) scoutInputs {
	f := q.Filters
	in := scoutInputs{
		Query:             q.Text,
		NumResults:        f.Limit,
		FormatResults:     f.Format,
		MinRelevanceScore: f.MinRelevance,
		AspectRatio:       []string{},
		MinQualityScore:   f.MinQuality,
		MaxQualityScore:   1,
		MaxVideoWidth:     -1,
		MaxVideoHeight:    -1,
		MaxMotionScore:    1,
		MinDuration:       f.MinDurationSeconds,
		MaxDuration:       -1,
	}
	for _, ex := range f.Exclude {
		switch ex {
		case "static":
			in.ExcludeStatic = true
		case "overlay":
			in.ExcludeOverlay = true
		case "black_bars":
			in.ExcludeBlackBar = true
		}
	}
	if in.NumResults <= 0 {
		in.NumResults = 1
	}
	return in
}

// Resolve returns the first search result for q, or nil when nothing matched.
func (s *ScoutService) Resolve(ctx context.Context, q footage.Query) (*models.ClipRef, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	jobID, err := s.push(ctx, buildScoutInputs(q))
	if err != nil {
		return nil, fmt.Errorf("failed to submit footage search: %w", err)
	}
	log.Printf("[Scout] Search %q submitted, job=%s", q.Text, jobID)

	var job *scoutJob
	err = pollUntil(ctx, "footage search "+jobID, s.poll, func(ctx context.Context, attempt int) (bool, error) {
		j, err := s.getJob(ctx, jobID)
		if err != nil {
			return false, fmt.Errorf("failed to poll footage search (attempt %d): %w", attempt, err)
		}
		switch j.Status {
		case "finished":
			job = j
			return true, nil
		case "error", "failed", "cancelled":
			msg := "unknown error"
			if j.Error != nil && j.Error.Message != "" {
				msg = j.Error.Message
			}
			return false, fmt.Errorf("footage search failed: %s (job=%s)", msg, jobID)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	for _, out := range job.Outputs {
		for _, r := range out.Data {
			url := r.URL
			if url == "" {
				url = r.Path
			}
			if url == "" {
				continue
			}
			log.Printf("[Scout] Search %q matched %s (relevance=%.2f)", q.Text, url, r.RelevanceScore)
			return &models.ClipRef{
				URL:             url,
				DurationSeconds: r.Duration,
				Width:           r.Width,
				Height:          r.Height,
				RelevanceScore:  r.RelevanceScore,
				QualityScore:    r.QualityScore,
				Source:          "scout",
			}, nil
		}
	}

	log.Printf("[Scout] Search %q returned no footage", q.Text)
	return nil, nil
}

func (s *ScoutService) push(ctx context.Context, inputs scoutInputs) (string, error) {
	jsonData, err := json.Marshal(scoutPushRequest{Function: scoutFunction, Inputs: inputs})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/v2/push", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)

	body, err := s.do(req, http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return "", err
	}

	var pushResp scoutPushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return "", fmt.Errorf("failed to parse push response: %w (body: %s)", err, string(body))
	}
	if pushResp.ID == "" {
		return "", fmt.Errorf("no job id in push response: %s", string(body))
	}
	return pushResp.ID, nil
}

func (s *ScoutService) getJob(ctx context.Context, jobID string) (*scoutJob, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/v2/jobs/%s", s.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)

	body, err := s.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var job scoutJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w (body: %s)", err, string(body))
	}
	return &job, nil
}

func (s *ScoutService) do(req *http.Request, okStatuses ...int) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	for _, code := range okStatuses {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, fmt.Errorf("scout returned status %d: %s", resp.StatusCode, string(body))
}
