package interfaces

import (
	"context"

	"github.com/disqualifier/mailtime/internal/models"
)

// MergeResult reports what one merge changed.
type MergeResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

func (r MergeResult) Empty() bool {
	return r.Added == 0 && r.Updated == 0 && r.Removed == 0
}

// QueryFilter selects cached messages. Text matches subject, sender and
// body as a case-insensitive substring. Zero values mean "no constraint".
type QueryFilter struct {
	Folder      string
	Text        string
	UnseenOnly  bool
	FlaggedOnly bool
	Limit       int
}

// CacheRepository is the durable per-account message store. All writers for
// one account are serialized; different accounts are fully independent.
type CacheRepository interface {
	// EnsureAccount loads (or creates empty) the in-memory cache for an
	// account and seeds its email. Safe to call repeatedly.
	EnsureAccount(ctx context.Context, accountID, email string) error
	// Load returns a deep snapshot of the account cache. A corrupt or
	// unreadable file degrades to an empty cache, never an error.
	Load(ctx context.Context, accountID string) (*models.AccountCache, error)
	// Merge applies fetched messages and server-side removals to one
	// folder: de-duplicates by UID, updates changed messages in place and
	// advances the folder cursor. Re-applying an identical batch is a
	// no-op. The result is not durable until Save.
	Merge(ctx context.Context, accountID, folder string, incoming []*models.Message, deletedUIDs []uint32) (MergeResult, error)
	// Save writes the account cache atomically (temp file then rename).
	Save(ctx context.Context, accountID string) error
	// Query returns cached messages matching the filter.
	Query(ctx context.Context, accountID string, filter QueryFilter) ([]*models.Message, error)
	// GetCursor returns the folder's last merged UID, zero when unknown.
	GetCursor(ctx context.Context, accountID, folder string) (uint32, error)
	// FolderFlags returns UID -> flags for every cached message in a
	// folder. Workers diff it against a fresh server fetch to detect flag
	// changes and expunges.
	FolderFlags(ctx context.Context, accountID, folder string) (map[uint32]models.MessageFlags, error)
	// Stats summarizes every cached folder without copying message bodies.
	Stats(ctx context.Context, accountID string) (map[string]FolderStats, error)
	// ListFolders returns the folders present in the account cache.
	ListFolders(ctx context.Context, accountID string) ([]string, error)
	// ListAccountIDs returns every account with an in-memory cache entry.
	ListAccountIDs(ctx context.Context) ([]string, error)
	// Compact trims each folder to at most maxPerFolder messages, oldest
	// first, and saves when anything was dropped. Returns removed count.
	Compact(ctx context.Context, accountID string, maxPerFolder int) (int, error)
	// Delete removes the account's cache file and in-memory state.
	Delete(ctx context.Context, accountID string) error
	// Evict drops the in-memory entry, keeping the file on disk.
	Evict(ctx context.Context, accountID string) error
}
