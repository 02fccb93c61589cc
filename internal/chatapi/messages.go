package chatapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Screen-level error texts.
const (
	MsgNotAuthenticated   = "User not authenticated. Please log in."
	MsgAuthExpired        = "Authentication failed. Please log in again."
	MsgLoggingFailedFmt   = "Bot responded, but RL logging failed: %s"
	MsgUnexpectedResponse = "Received an unexpected or empty response from the bot."
	MsgGeneric            = "An error occurred. Please try again."
	MsgTimeout            = "The bot took too long to answer. Please try again."
	MsgStatusFmt          = "Request failed with status code %d"
)

// Classify inspects a decoded reply. It returns "" when the reply carries both a response and an
// episode ID; the transcript then updates from the store, not from the reply.
func Classify(r *Reply) string {
	switch {
	case r != nil && r.Response != "" && r.EpisodeID != "":
		return ""
	case r != nil && r.ErrorLoggingRL != "":
		return fmt.Sprintf(MsgLoggingFailedFmt, r.ErrorLoggingRL)
	default:
		return MsgUnexpectedResponse
	}
}

// Describe turns a failed Send into the single error line shown on the screen.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAuthExpired) {
		return MsgAuthExpired
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	if errors.Is(err, ErrUnexpectedResponse) {
		return MsgUnexpectedResponse
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		return fmt.Sprintf(MsgStatusFmt, se.Code)
	}

	// Transport failures: report the underlying cause, not the request plumbing.
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MsgGeneric
}
