package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// fal.ai avatar narration
// A presenter avatar reads the narration. Uses fal's queue API:
// submit → poll status (with logs) → fetch result → download the video.
// ---------------------------------------------------------------------------

const (
	falQueueBaseURL    = "https://queue.fal.run"
	falAvatarApp       = "veed/avatars/text-to-video"
	falDefaultAvatarID = "emily_primary"
)

// FalAvatars are the presenters the avatar app accepts.
var FalAvatars = []string{
	"emily_primary", "emily_side",
	"marcus_primary", "marcus_side",
	"aisha_walking", "elena_primary",
	"elena_side", "any_male_primary",
	"any_female_primary", "any_male_side",
	"any_female_side",
}

var falPollPolicy = pollPolicy{
	initialDelay: 10 * time.Second, // Avatar renders take minutes; nothing is ready sooner
	minInterval:  2 * time.Second,
	maxInterval:  15 * time.Second,
	factor:       1.5,
	timeout:      20 * time.Minute,
}

// fileFetcher downloads a remote reference to dst. storage.Storage satisfies it.
type fileFetcher interface {
	Localize(ctx context.Context, ref, dst string) (string, error)
}

type FalAvatarService struct {
	baseURL    string
	apiKey     string
	avatarID   string
	workDir    string
	fetcher    fileFetcher
	httpClient *http.Client
	poll       pollPolicy
}

var _ NarrationSynthesizer = (*FalAvatarService)(nil)

// NewFalAvatarService validates avatarID; empty selects the default presenter.
func NewFalAvatarService(apiKey, avatarID, workDir string, fetcher fileFetcher) (*FalAvatarService, error) {
	if avatarID == "" {
		avatarID = falDefaultAvatarID
	}
	if !validAvatar(avatarID) {
		return nil, fmt.Errorf("invalid avatar %q, must be one of: %s", avatarID, strings.Join(FalAvatars, ", "))
	}
	return &FalAvatarService{
		baseURL:  falQueueBaseURL,
		apiKey:   apiKey,
		avatarID: avatarID,
		workDir:  workDir,
		fetcher:  fetcher,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Per request, not the full render
		},
		poll: falPollPolicy,
	}, nil
}

func validAvatar(id string) bool {
	for _, a := range FalAvatars {
		if a == id {
			return true
		}
	}
	return false
}

type falSubmitRequest struct {
	AvatarID string `json:"avatar_id"`
	Text     string `json:"text"`
}

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// falStatus moves IN_QUEUE → IN_PROGRESS → COMPLETED. Errors surface on the result.
type falStatus struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Logs          []struct {
		Message string `json:"message"`
	} `json:"logs"`
	Error string `json:"error,omitempty"`
}

type falResult struct {
	Video *struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"video"`
	Detail interface{} `json:"detail,omitempty"`
}

// Synthesize renders the avatar reading text and downloads the video into workDir.
func (s *FalAvatarService) Synthesize(ctx context.Context, text string, status func(string)) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no narration text")
	}

	sub, err := s.submit(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to submit avatar video: %w", err)
	}
	log.Printf("[Fal] Avatar video submitted, request_id=%s (avatar=%s, textLen=%d)", sub.RequestID, s.avatarID, len(text))

	statusURL := sub.StatusURL
	if statusURL == "" {
		statusURL = fmt.Sprintf("%s/%s/requests/%s/status", s.baseURL, falAvatarApp, sub.RequestID)
	}
	responseURL := sub.ResponseURL
	if responseURL == "" {
		responseURL = fmt.Sprintf("%s/%s/requests/%s", s.baseURL, falAvatarApp, sub.RequestID)
	}

	seenLogs := 0
	err = pollUntil(ctx, "avatar video "+sub.RequestID, s.poll, func(ctx context.Context, attempt int) (bool, error) {
		st, err := s.getStatus(ctx, statusURL)
		if err != nil {
			return false, fmt.Errorf("failed to poll avatar video (attempt %d): %w", attempt, err)
		}
		// Logs are cumulative; forward only the new ones.
		for ; seenLogs < len(st.Logs); seenLogs++ {
			msg := st.Logs[seenLogs].Message
			log.Printf("[Fal] %s", msg)
			if status != nil {
				status(msg)
			}
		}
		switch st.Status {
		case "COMPLETED":
			return true, nil
		case "FAILED", "ERROR":
			return false, fmt.Errorf("avatar video failed: %s", st.Error)
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	res, err := s.getResult(ctx, responseURL)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.workDir, fmt.Sprintf("narration_%s.mp4", uuid.New().String()))
	local, err := s.fetcher.Localize(ctx, res.Video.URL, dst)
	if err != nil {
		return "", fmt.Errorf("failed to download avatar video: %w", err)
	}

	log.Printf("[Fal] Avatar video ready at %s", local)
	return local, nil
}

func (s *FalAvatarService) submit(ctx context.Context, text string) (*falSubmitResponse, error) {
	jsonData, err := json.Marshal(falSubmitRequest{AvatarID: s.avatarID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/%s", s.baseURL, falAvatarApp), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := s.do(req)
	if err != nil {
		return nil, err
	}

	var sub falSubmitResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submit response: %w (body: %s)", err, string(body))
	}
	if sub.RequestID == "" {
		return nil, fmt.Errorf("no request_id in submit response: %s", string(body))
	}
	return &sub, nil
}

func (s *FalAvatarService) getStatus(ctx context.Context, statusURL string) (*falStatus, error) {
	sep := "?"
	if strings.Contains(statusURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, "GET", statusURL+sep+"logs=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := s.do(req)
	if err != nil {
		return nil, err
	}

	var st falStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w (body: %s)", err, string(body))
	}
	return &st, nil
}

func (s *FalAvatarService) getResult(ctx context.Context, responseURL string) (*falResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", responseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch avatar result: %w", err)
	}

	var res falResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w (body: %s)", err, string(body))
	}
	if res.Video == nil || res.Video.URL == "" {
		return nil, fmt.Errorf("avatar result has no video url: %s", truncateString(string(body), 500))
	}
	return &res, nil
}

func (s *FalAvatarService) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Key "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// The queue answers 202 while a request is pending.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("fal returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
