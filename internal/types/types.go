package types

import (
	"time"
)

type User struct {
	Id       int        `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	IsAdmin  bool       `json:"is_admin,omitempty"`
	Online   bool       `json:"online,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Channel struct {
	Id             int       `json:"id"`
	ExternalId     string    `json:"external_id"`
	GroupId        int       `json:"group_id"`
	Name           string    `json:"name"`
	Members        []User    `json:"members,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeVideo MessageType = "video"
)

// FileRef points at an externally stored attachment. All four fields
// are populated together for non-text messages.
type FileRef struct {
	Url      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Message is the canonical, persisted form of a channel message. Id and
// Timestamp are assigned by the store, never by the sender.
type Message struct {
	Id         int         `json:"id"`
	ChannelId  string      `json:"channel_id"`
	SenderId   int         `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content,omitempty"`
	Type       MessageType `json:"type"`
	File       *FileRef    `json:"file,omitempty"`
	Edited     bool        `json:"edited,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
