package interfaces

import (
	"context"

	"github.com/disqualifier/mailtime/internal/models"
)

// IMAPClient drives one IMAP session for one account. A client owns its
// transport connection from Connect until Close; it performs no disk writes.
// Implementations must put an individual timeout on every network call.
type IMAPClient interface {
	// Connect dials the server. Failures are typed *errors.ConnectError.
	Connect(ctx context.Context) error
	// Authenticate logs in with the account credentials. Failures are
	// typed *errors.AuthError.
	Authenticate(ctx context.Context) error
	// ListFolders returns selectable folder names, preferred folders first.
	ListFolders(ctx context.Context) ([]string, error)
	// SelectFolder opens a folder and reports its counts.
	SelectFolder(ctx context.Context, folder string) (*FolderInfo, error)
	// FetchSince returns messages with UID greater than sinceUID. When
	// sinceUID is zero it falls back to a bounded fetch of the newest
	// maxCount messages.
	FetchSince(ctx context.Context, folder string, sinceUID uint32, maxCount int) ([]*models.Message, error)
	// FetchFlags returns the current flags of every message with UID at
	// most uptoUID, without re-downloading bodies. Callers diff the result
	// against the cache to detect flag changes and expunges.
	FetchFlags(ctx context.Context, folder string, uptoUID uint32) (map[uint32]models.MessageFlags, error)
	// FetchByUIDs downloads the given messages in full.
	FetchByUIDs(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error)
	// Search runs a server-side text search and returns matching UIDs.
	// Returns errors.ErrSearchUnsupported when the server cannot search;
	// callers fall back to the cache.
	Search(ctx context.Context, folder string, query string) ([]uint32, error)
	// Close logs out and releases the connection. Safe on every exit path.
	Close() error
}

// IMAPClientFactory builds a protocol client for one account session.
// Workers create a fresh client per connection attempt.
type IMAPClientFactory func(account *models.Account, password string) IMAPClient

// FolderInfo is the folder state reported by SelectFolder.
type FolderInfo struct {
	Name     string
	Messages uint32
	Unseen   uint32
}
