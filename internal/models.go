package database

import (
	"time"

	"github.com/google/uuid"
)

// User roles stored in the user_role enum.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Message roles stored in the message_role enum.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// SSOPasswordSentinel marks accounts created through SSO. It is never a
// valid bcrypt hash, so such accounts cannot log in with a local password.
const SSOPasswordSentinel = "di-user-no-password"

// User represents the 'users' table. PasswordHash never leaves the server.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         *string   `db:"name" json:"name"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// DisplayName returns the name or an empty string.
func (u User) DisplayName() string {
	if u.Name == nil {
		return ""
	}
	return *u.Name
}

// Document represents the 'documents' table. UploaderName is filled by
// list queries that join the uploader.
type Document struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	FileName     string     `db:"file_name" json:"fileName"`
	FileType     string     `db:"file_type" json:"fileType"`
	FileSize     int64      `db:"file_size" json:"fileSize"`
	StorageKey   string     `db:"storage_key" json:"storageKey"`
	UploadedByID *uuid.UUID `db:"uploaded_by_id" json:"uploadedById"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	UploaderName *string    `db:"uploader_name" json:"-"`
	Uploader     *Uploader  `db:"-" json:"uploader,omitempty"`
}

// Uploader is the part of the uploading user exposed with a document.
type Uploader struct {
	Name *string `json:"name"`
}

// ChatSession represents the 'chat_sessions' table.
type ChatSession struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ChatMessage represents the 'chat_messages' table.
type ChatMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"sessionId"`
	Content   string    `db:"content" json:"content"`
	Role      string    `db:"role" json:"role"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}
