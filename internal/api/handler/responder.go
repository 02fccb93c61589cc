package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pasta/chat/internal/config"
	"pasta/chat/internal/models"
)

// Responder produces the model's reply to a user turn. history is the conversation so far,
// oldest first, not including text.
type Responder interface {
	Reply(ctx context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error)

func (f ResponderFunc) Reply(ctx context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error) {
	return f(ctx, feature, history, text)
}

// CannedResponder answers without any model, for running the stack offline.
type CannedResponder struct{}

func (CannedResponder) Reply(_ context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error) {
	turns := 0
	for _, m := range history {
		if m.Role == models.RoleUser {
			turns++
		}
	}
	return fmt.Sprintf("**%s** received your message:\n\n> %s\n\n_No model is configured; this is reply #%d._",
		feature.Title, text, turns+1), nil
}

// CompletionResponder asks an OpenAI-compatible chat completions API.
type CompletionResponder struct {
	BaseURL    string
	APIKey     string
	Model      string
	httpClient *http.Client
}

// NewCompletionResponder creates a CompletionResponder from the backend's LLM settings.
func NewCompletionResponder(cfg config.LLMConfig) *CompletionResponder {
	return &CompletionResponder{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// NewResponder picks the completion responder when a base URL is configured and the canned
// one otherwise.
func NewResponder(cfg config.LLMConfig) Responder {
	if cfg.BaseURL == "" {
		return CannedResponder{}
	}
	return NewCompletionResponder(cfg)
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

func systemPrompt(feature models.Feature) string {
	return fmt.Sprintf("You are %s, a helpful assistant in the PASTA app. Answer concisely; markdown is rendered.", feature.Title)
}

func (r *CompletionResponder) Reply(ctx context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error) {
	messages := []completionMessage{{Role: "system", Content: systemPrompt(feature)}}
	for _, m := range history {
		role := "user"
		if m.Role == models.RoleModel {
			role = "assistant"
		}
		messages = append(messages, completionMessage{Role: role, Content: m.Text()})
	}
	messages = append(messages, completionMessage{Role: "user", Content: text})

	reqBody, err := json.Marshal(completionRequest{Model: r.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := strings.TrimRight(r.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request to llm: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm api returned non-200 status: %s, body: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode llm response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("llm returned no content")
	}
	return out.Choices[0].Message.Content, nil
}
