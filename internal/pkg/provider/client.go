package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VisageAI/visage/internal/pkg/constants"
	"github.com/VisageAI/visage/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.fluxforge.example/v1"

// Client talks to the external image-generation provider. The provider
// accepts a job synchronously and reports progress through webhooks.
type Client struct {
	APIKey     string
	APIBaseURL string
	WebhookURL string

	HTTPClient *http.Client
}

// CreateJobInput describes one generation job dispatch.
type CreateJobInput struct {
	EngineID string   `json:"engine"`
	InputURL string   `json:"input_url,omitempty"`
	Count    int      `json:"count"`
	Webhook  string   `json:"webhook_url,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Job is the provider's synchronous response to a dispatch.
type Job struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClientFromEnv builds a client from environment configuration.
func NewClientFromEnv() *Client {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	webhookURL := strings.TrimSpace(env.GetEnv("PROVIDER_WEBHOOK_URL", ""))
	if webhookURL == "" && base != "" {
		webhookURL = base + constants.GenerationWebhookRoute
	}

	return &Client{
		APIKey:     strings.TrimSpace(env.GetEnv("PROVIDER_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PROVIDER_API_BASE_URL", defaultAPIBaseURL), "/"),
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateJob dispatches a generation job and returns the provider job id.
// A non-2xx response or transport error means the job was NOT accepted;
// callers must treat the generation as failed and refund.
func (c *Client) CreateJob(ctx context.Context, in CreateJobInput) (*Job, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PROVIDER_API_KEY is not configured")
	}
	if strings.TrimSpace(in.EngineID) == "" {
		return nil, errors.New("engine id is required")
	}
	if in.Count <= 0 {
		in.Count = 1
	}
	if in.Webhook == "" {
		in.Webhook = c.WebhookURL
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("provider rejected job (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("provider rejected job (%d)", resp.StatusCode)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("invalid provider response: %w", err)
	}
	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("provider response is missing the job id")
	}
	return &job, nil
}

// CancelJob asks the provider to abort a running job. Cancellation is
// best-effort; the terminal state still arrives through the webhook.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/jobs/"+jobID+"/cancel", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider cancel failed (%d)", resp.StatusCode)
	}
	return nil
}
