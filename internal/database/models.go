package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id        int
	Username  string
	Email     string
	IsAdmin   bool
	Online    bool
	LastSeen  sql.NullTime
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Channel struct {
	Id             int
	ExternalId     string
	GroupId        int
	Name           string
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Members        []User
}

type Message struct {
	Id           int
	ChannelId    int
	UserId       int
	Username     string
	Content      string
	Type         string
	FileUrl      sql.NullString
	FileName     sql.NullString
	FileSize     sql.NullInt64
	FileMimeType sql.NullString
	Edited       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateMessageParams carries the sender's draft. Id and CreatedAt are
// assigned by the store on insert.
type CreateMessageParams struct {
	ChannelId    int
	UserId       int
	Username     string
	Content      string
	Type         string
	FileUrl      sql.NullString
	FileName     sql.NullString
	FileSize     sql.NullInt64
	FileMimeType sql.NullString
}
