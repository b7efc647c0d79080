package model

import (
	"encoding/json"
	"time"
)

// MailboxConnection is the single shared OAuth credential of the mailbox.
type MailboxConnection struct {
	ID           string
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	Email        string
	LastSyncAt   *time.Time
}

// CachedMessage is one row of gmail_messages: the memoized full payload of an
// upstream message.
type CachedMessage struct {
	ID           string
	ThreadID     string
	ToEmail      *string
	FromEmail    *string
	Subject      *string
	Snippet      *string
	InternalDate *time.Time
	Payload      json.RawMessage
	CreatedAt    time.Time
}

// SyncLog records one mailbox sync run.
type SyncLog struct {
	ID               int64
	ConnectionID     string
	SyncType         string
	Status           string
	MessagesFetched  int
	MessagesInserted int
	QueryUsed        *string
	ErrorMessage     *string
	ExecutionTimeMs  int64
	StartedAt        time.Time
	CompletedAt      *time.Time
}
