package api

import (
	database "github.com/Armour007/grc-assistant/internal"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  database.User `json:"user"`
	Token string        `json:"token"`
}

// RegisterResponse omits timestamps, matching what the frontend stores.
type RegisterResponse struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
	Role  string  `json:"role"`
}

// CreateUserRequest is the admin form for new accounts.
type CreateUserRequest struct {
	Name     *string `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
}

type UpdateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

type UpdateProfileRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ChatRequest is the body of POST /api/chat. A missing session_id starts a
// new session; session_title names it.
type ChatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"session_id"`
	SessionTitle   string `json:"session_title"`
	IncludeSources *bool  `json:"include_sources"`
}

type ChatHistoryResponse struct {
	Session  database.ChatSession   `json:"session"`
	Messages []database.ChatMessage `json:"messages"`
}
