package notifications

import "time"

type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Message is one notification about to be delivered.
type Message struct {
	Type  string
	Title string
	Body  string
}

// Recipient is the mail side of a user: where to send and whether the tenant
// mails at all.
type Recipient struct {
	Email        string
	EmailEnabled bool
	From         string
}

type ListFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
