package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Client{
		APIKey:     "test-key",
		APIBaseURL: srv.URL,
		WebhookURL: "https://visage.test/api/v1/webhooks/generation",
		HTTPClient: srv.Client(),
	}, srv
}

func TestCreateJobSuccess(t *testing.T) {
	var gotAuth string
	var gotBody CreateJobInput

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Job{ID: "job_af01", Status: "processing"})
	})

	job, err := client.CreateJob(context.Background(), CreateJobInput{
		EngineID: "flux-premium",
		InputURL: "https://cdn.visage.test/sources/a.jpg",
		Count:    4,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ID != "job_af01" {
		t.Errorf("expected job id job_af01, got %q", job.ID)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.Webhook != client.WebhookURL {
		t.Errorf("expected webhook url to be filled in, got %q", gotBody.Webhook)
	}
	if gotBody.Count != 4 {
		t.Errorf("expected count 4, got %d", gotBody.Count)
	}
}

func TestCreateJobRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid_engine","message":"unknown engine"}`))
	})

	_, err := client.CreateJob(context.Background(), CreateJobInput{EngineID: "nope"})
	if err == nil {
		t.Fatal("expected an error for a rejected job")
	}
}

func TestCreateJobMissingJobID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	})

	_, err := client.CreateJob(context.Background(), CreateJobInput{EngineID: "flux-fast"})
	if err == nil {
		t.Fatal("expected an error when the provider omits the job id")
	}
}

func TestCreateJobRequiresAPIKey(t *testing.T) {
	client := &Client{APIBaseURL: "http://localhost:1", HTTPClient: http.DefaultClient}
	if _, err := client.CreateJob(context.Background(), CreateJobInput{EngineID: "flux-fast"}); err == nil {
		t.Fatal("expected an error without an api key")
	}
}

func TestCancelJob(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job_af01/cancel" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	if err := client.CancelJob(context.Background(), "job_af01"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
}
