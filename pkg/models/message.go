package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DocumentRef points at a backend document cited in an answer.
type DocumentRef struct {
	ID    string  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Score float64 `json:"score,omitempty"`
}

// ChatMessage is one turn in the chat transcript.
//
// Assistant messages start life as a pending placeholder and are settled in
// place exactly once, either to the final answer or to an error text.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Documents []DocumentRef `json:"documents,omitempty"`
	Pending   bool          `json:"pending"`
	Errored   bool          `json:"errored"`
}

// Identity describes the authenticated user.
type Identity struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SessionToken holds the client-side view of an authenticated session.
type SessionToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Identity     Identity  `json:"identity"`
	IssuedAt     time.Time `json:"issued_at"`
}
