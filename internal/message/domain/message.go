package domain

import (
	"errors"
	"strings"
	"time"
)

// MaxBodyLength is the longest message body accepted, in bytes.
const MaxBodyLength = 4000

var (
	// ErrEmptyBody is returned by Validate for a blank body.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong is returned by Validate for a body over MaxBodyLength.
	ErrBodyTooLong = errors.New("message body is too long")
)

// Message is one chat message posted to a channel.
type Message struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	ChannelID   string    `json:"channel_id"`
	UserID      string    `json:"user_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateBody checks a body before it is written.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}
