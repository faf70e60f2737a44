package models

import (
	"time"

	"github.com/disqualifier/mailtime/internal/enum"
)

// SyncState is the runtime health of one account's sync loop. It is never
// persisted; a restart begins from Disconnected.
type SyncState struct {
	Status              enum.ConnectionStatus `json:"status"`
	LastSyncAt          *time.Time            `json:"lastSyncAt,omitempty"`
	LastError           string                `json:"lastError,omitempty"`
	ConsecutiveFailures int                   `json:"consecutiveFailures"`
	AuthFailures        int                   `json:"authFailures"`
	NextRetryAt         *time.Time            `json:"nextRetryAt,omitempty"`
}

// SyncSummary reports what one folder sync changed.
type SyncSummary struct {
	Folder     string `json:"folder"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Removed    int    `json:"removed"`
	DurationMs int64  `json:"durationMs"`
}

func (s SyncSummary) Changed() bool {
	return s.Added > 0 || s.Updated > 0 || s.Removed > 0
}
