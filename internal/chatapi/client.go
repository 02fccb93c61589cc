// Package chatapi talks to the remote chatbot endpoints: one GET per user message, the text
// URL-encoded into the path and the caller's ID token attached as a bearer credential.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrAuthExpired is returned for 401 and 403 responses, whatever their body.
	ErrAuthExpired = errors.New("chatapi: authentication rejected")
	// ErrUnexpectedResponse is returned when a 2xx body is not a JSON object.
	ErrUnexpectedResponse = errors.New("chatapi: unexpected response body")
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// Reply is the success body of a chat endpoint.
type Reply struct {
	Response                string `json:"response"`
	EpisodeID               string `json:"episode_id"`
	ModelMessageFirestoreID string `json:"model_message_firestore_id,omitempty"`
	ErrorLoggingRL          string `json:"error_logging_rl,omitempty"`
}

// StatusError is a non-2xx response other than an auth rejection.
type StatusError struct {
	Code int
	// Message is the server's own error text, when the body carried one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chatapi: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chatapi: status %d", e.Code)
}

// Client sends user messages to chat endpoints.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client using hc, or http.DefaultClient when hc is nil.
// Timeouts come from the caller's context.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{httpClient: hc}
}

// RequestURL builds GET <endpoint>/<escaped text>.
func RequestURL(endpoint, text string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(text)
}

// Send issues exactly one request for text and decodes the reply.
func (c *Client) Send(ctx context.Context, endpoint, idToken, text string) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, RequestURL(endpoint, text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+idToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: extractError(body)}
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return &reply, nil
}

// extractError pulls a server error message from either {"error": "..."} or
// {"data": {"error": "..."}}.
func extractError(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
		Data  struct {
			Error string `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Data.Error != "" {
		return payload.Data.Error
	}
	var s string
	if json.Unmarshal(payload.Error, &s) == nil {
		return s
	}
	return ""
}
