package models

// User is a directory entry for a chat participant.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Online bool   `json:"online"`
}
