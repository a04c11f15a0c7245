package models

import "time"

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the service knows how to handle.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message weights recorded by like/dislike interactions.
const (
	WeightDisliked = 0
	WeightNeutral  = 1
	WeightLiked    = 2
)

type Chat struct {
	UID         string    `json:"uid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	UID       string    `json:"uid"`
	ChatUID   string    `json:"chat_uid"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"` // relative path to a stored asset
	Weight    int       `json:"weight"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
