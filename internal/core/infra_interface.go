package core

import (
	"context"
	"encoding/json"
	"io"

	"github.com/healthchat-app/HealthChat/internal/models"
)

// ProfileStore defines all persistence operations the services need.
// It abstracts the Postgres profile table so higher layers never depend on
// a specific store.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	// GetProfileByEmail returns (nil, nil) when no account exists.
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, email string, upd *models.ProfileUpdate) error

	// UpdateChatHistory overwrites the primary patient's session snapshot.
	UpdateChatHistory(ctx context.Context, email string, history json.RawMessage) error
	// UpdateFamilyChatHistory overwrites one family member's session
	// snapshot inside the nested family_members array.
	UpdateFamilyChatHistory(ctx context.Context, email, memberID string, history json.RawMessage) error

	UpdateFileRefs(ctx context.Context, email string, refs []models.FileRef) error
	UpdateFamilyFileRefs(ctx context.Context, email, memberID string, refs []models.FileRef) error

	ListProfiles(ctx context.Context) ([]models.Profile, error)
	SetBanned(ctx context.Context, email string, banned bool) error
	DeleteProfile(ctx context.Context, email string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// ChatRequest is the contract with the chat-completion collaborator: the
// active patient's own context, the prior transcript, and the new turn.
type ChatRequest struct {
	Patient  *models.Patient
	History  []models.ChatMessage
	Message  string
	ImageURL string
}

// ChatProvider generates exactly one assistant reply per call.
type ChatProvider interface {
	Reply(ctx context.Context, req *ChatRequest) (string, error)
}

// Mailer is the fire-and-forget email dispatch collaborator.
type Mailer interface {
	SendOTP(ctx context.Context, to, name, code string) error
	// Broadcast delivers one message per recipient so addresses are never
	// disclosed across recipients.
	Broadcast(ctx context.Context, recipients []string, subject, body string) error
}
