package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobcard-backend/internal/models"
)

const (
	JobCardsTopic       = "job_cards"
	EventJobCardCreated = "job_card_created"
	EventJobCardQueued  = "job_card_queued"
)

// RealtimeClient sends broadcast messages through the Realtime REST endpoint,
// so other devices learn about new job cards without polling.
type RealtimeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoffs   []time.Duration
}

type broadcastMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type broadcastRequest struct {
	Messages []broadcastMessage `json:"messages"`
}

func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	return &RealtimeClient{
		baseURL: strings.TrimSuffix(supabaseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// WithBackoffs replaces the retry delays.
func (r *RealtimeClient) WithBackoffs(backoffs ...time.Duration) *RealtimeClient {
	r.backoffs = backoffs
	return r
}

func (r *RealtimeClient) Broadcast(ctx context.Context, topic, event string, payload any) error {
	jsonData, err := json.Marshal(broadcastRequest{
		Messages: []broadcastMessage{{Topic: topic, Event: event, Payload: payload}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/realtime/v1/api/broadcast", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to broadcast %s: status %d, body: %s", event, resp.StatusCode, string(body))
	}
	return nil
}

// PublishJobCard announces a new job card. synced reports whether the record
// reached the database or is only held on the device.
func (r *RealtimeClient) PublishJobCard(ctx context.Context, card models.JobCard, synced bool) error {
	event := EventJobCardCreated
	if !synced {
		event = EventJobCardQueued
	}
	return r.RetryWithBackoff(ctx, func() error {
		return r.Broadcast(ctx, JobCardsTopic, event, JobCardPayload(card, synced))
	}, len(r.backoffs)+1)
}

// RetryWithBackoff executes fn until it succeeds, maxRetries is reached or
// ctx ends.
func (r *RealtimeClient) RetryWithBackoff(ctx context.Context, fn func() error, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == maxRetries-1 || i >= len(r.backoffs) {
			continue
		}
		select {
		case <-time.After(r.backoffs[i]):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func JobCardPayload(card models.JobCard, synced bool) map[string]any {
	return map[string]any{
		"id":            card.ID,
		"engineer_id":   card.EngineerID,
		"engineer_name": card.EngineerName,
		"hospital_name": card.HospitalName,
		"manual_upload": card.ManualUpload,
		"created_at":    card.CreatedAt.UTC().Format(time.RFC3339),
		"synced":        synced,
	}
}
