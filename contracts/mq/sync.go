package mq

import "time"

// SyncRequestedPayload asks the worker to pull the mailbox.
type SyncRequestedPayload struct {
	ConnectionID string    `json:"connection_id"`
	Force        bool      `json:"force"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// SyncCompletedPayload is published after every worker run, failed or not.
type SyncCompletedPayload struct {
	ConnectionID     string `json:"connection_id"`
	SyncType         string `json:"sync_type"` // full / incremental
	MessagesFetched  int    `json:"messages_fetched"`
	MessagesInserted int    `json:"messages_inserted"`
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
}
