package models

import (
	"time"
)

// CacheFormatVersion is bumped when the on-disk cache schema changes shape.
const CacheFormatVersion = 1

// AccountCache is the full persisted state for one account: every cached
// message for every folder plus the per-folder sync cursor. It serializes
// to a single JSON file.
type AccountCache struct {
	FormatVersion int                     `json:"formatVersion"`
	AccountEmail  string                  `json:"accountEmail"`
	LastUpdated   time.Time               `json:"lastUpdated"`
	Folders       map[string]*FolderCache `json:"folders"`
}

// FolderCache holds the cached messages and sync cursor for one folder.
// LastSyncCursor is the highest UID ever merged for the folder; fetches
// resume above it.
type FolderCache struct {
	LastSyncCursor uint32     `json:"lastSyncCursor"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	Messages       []*Message `json:"messages"`
}

func NewAccountCache(email string) *AccountCache {
	return &AccountCache{
		FormatVersion: CacheFormatVersion,
		AccountEmail:  email,
		Folders:       make(map[string]*FolderCache),
	}
}

// Folder returns the named folder bucket, creating it when absent.
func (c *AccountCache) Folder(name string) *FolderCache {
	if c.Folders == nil {
		c.Folders = make(map[string]*FolderCache)
	}
	folder, ok := c.Folders[name]
	if !ok {
		folder = &FolderCache{}
		c.Folders[name] = folder
	}
	return folder
}

// FolderNames returns the folders present in the cache.
func (c *AccountCache) FolderNames() []string {
	names := make([]string, 0, len(c.Folders))
	for name := range c.Folders {
		names = append(names, name)
	}
	return names
}

// TotalMessages counts cached messages across all folders.
func (c *AccountCache) TotalMessages() int {
	total := 0
	for _, folder := range c.Folders {
		total += len(folder.Messages)
	}
	return total
}

// FindMessage returns the cached message with the given UID, or nil.
func (f *FolderCache) FindMessage(uid uint32) *Message {
	for _, msg := range f.Messages {
		if msg.UID == uid {
			return msg
		}
	}
	return nil
}

// FindMessage looks up one message by folder and UID, or nil.
func (c *AccountCache) FindMessage(folder string, uid uint32) *Message {
	fc, ok := c.Folders[folder]
	if !ok {
		return nil
	}
	return fc.FindMessage(uid)
}
