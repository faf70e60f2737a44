package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/disqualifier/mailtime/interfaces"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/tracing"
	"github.com/disqualifier/mailtime/internal/utils"
)

const cacheFileSuffix = "_emails.json"

type cacheRepository struct {
	baseDir string
	log     logger.Logger

	mu       sync.Mutex
	accounts map[string]*accountEntry
}

// accountEntry serializes every reader and writer for one account. Messages
// and the folder cursors live in the same AccountCache unit so a Save
// persists them together or not at all.
type accountEntry struct {
	mu    sync.Mutex
	cache *models.AccountCache
	dirty bool
}

func NewCacheRepository(baseDir string, log logger.Logger) interfaces.CacheRepository {
	return &cacheRepository{
		baseDir:  baseDir,
		log:      log,
		accounts: make(map[string]*accountEntry),
	}
}

func (r *cacheRepository) filePath(accountID string) string {
	return filepath.Join(r.baseDir, accountID+cacheFileSuffix)
}

// entry returns the per-account state, reading the cache file on first use.
func (r *cacheRepository) entry(accountID string) *accountEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.accounts[accountID]
	if !ok {
		e = &accountEntry{cache: r.readFile(accountID)}
		r.accounts[accountID] = e
	}
	return e
}

// readFile loads the cache file for an account. Any unreadable or corrupt
// file degrades to an empty cache: the broken file is set aside with a
// .corrupt suffix so the account can sync from scratch without losing the
// evidence.
func (r *cacheRepository) readFile(accountID string) *models.AccountCache {
	path := r.filePath(accountID)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Errorf("cache file unreadable for account %s: %v", accountID, err)
		}
		return models.NewAccountCache("")
	}

	var cache models.AccountCache
	if err := json.Unmarshal(data, &cache); err != nil {
		corruptErr := er.NewCacheCorruptionError(accountID, path, err)
		r.log.Errorf("%v; starting with empty cache", corruptErr)
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			r.log.Warnf("could not set aside corrupt cache file %s: %v", path, renameErr)
		}
		return models.NewAccountCache("")
	}

	if cache.FormatVersion > models.CacheFormatVersion {
		r.log.Warnf("cache file for account %s has format version %d, newer than %d; reading best-effort",
			accountID, cache.FormatVersion, models.CacheFormatVersion)
	}
	if cache.Folders == nil {
		cache.Folders = make(map[string]*models.FolderCache)
	}
	return &cache
}

func (r *cacheRepository) EnsureAccount(ctx context.Context, accountID, email string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.EnsureAccount")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	if accountID == "" {
		err := errors.New("account id is empty")
		tracing.TraceErr(span, err)
		return err
	}

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache.AccountEmail == "" && email != "" {
		e.cache.AccountEmail = email
	}
	return nil
}

func (r *cacheRepository) Load(ctx context.Context, accountID string) (*models.AccountCache, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Load")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := cloneCache(e.cache)
	span.LogFields(tracingLog.Int("messages", snapshot.TotalMessages()))
	return snapshot, nil
}

func (r *cacheRepository) Merge(ctx context.Context, accountID, folder string, incoming []*models.Message, deletedUIDs []uint32) (interfaces.MergeResult, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Merge")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folder)

	var result interfaces.MergeResult

	if folder == "" {
		err := errors.New("folder is empty")
		tracing.TraceErr(span, err)
		return result, err
	}

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	fc := e.cache.Folder(folder)

	index := make(map[uint32]int, len(fc.Messages))
	for i, msg := range fc.Messages {
		index[msg.UID] = i
	}

	highestUID := fc.LastSyncCursor
	for _, msg := range incoming {
		if msg == nil || msg.UID == 0 {
			continue
		}
		msg.Folder = folder
		if msg.UID > highestUID {
			highestUID = msg.UID
		}

		if i, exists := index[msg.UID]; exists {
			cached := fc.Messages[i]
			if cached.SupersededBy(msg) {
				applyUpdate(cached, msg)
				result.Updated++
			}
			continue
		}

		fc.Messages = append(fc.Messages, cloneMessage(msg))
		index[msg.UID] = len(fc.Messages) - 1
		result.Added++
	}

	if len(deletedUIDs) > 0 {
		deleted := make(map[uint32]struct{}, len(deletedUIDs))
		for _, uid := range deletedUIDs {
			deleted[uid] = struct{}{}
		}
		kept := fc.Messages[:0]
		for _, msg := range fc.Messages {
			if _, gone := deleted[msg.UID]; gone {
				result.Removed++
				continue
			}
			kept = append(kept, msg)
		}
		fc.Messages = kept
	}

	// Cursor and messages advance inside the same in-memory unit; Save
	// persists them together, so the stored cursor can never run ahead of
	// the stored messages.
	fc.LastSyncCursor = highestUID
	fc.LastSyncAt = utils.TimePtr(utils.Now())

	if !result.Empty() {
		e.cache.LastUpdated = utils.Now()
	}
	e.dirty = true

	span.LogFields(
		tracingLog.Int("result.added", result.Added),
		tracingLog.Int("result.updated", result.Updated),
		tracingLog.Int("result.removed", result.Removed),
	)
	return result, nil
}

// applyUpdate folds a fresher fetch into the cached message. A flags-only
// fetch must not discard a previously downloaded body.
func applyUpdate(cached, incoming *models.Message) {
	cached.Flags = incoming.Flags
	if incoming.Subject != "" {
		cached.Subject = incoming.Subject
	}
	if !incoming.SentAt.IsZero() {
		cached.SentAt = incoming.SentAt
	}
	if incoming.HasFullBody() {
		cached.BodyText = incoming.BodyText
		cached.BodyHTML = incoming.BodyHTML
		cached.Snippet = incoming.Snippet
		cached.ContentHash = incoming.ContentHash
		cached.Size = incoming.Size
	} else if incoming.Snippet != "" && cached.Snippet == "" {
		cached.Snippet = incoming.Snippet
	}
}

func (r *cacheRepository) Save(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Save")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty {
		return nil
	}

	if err := r.writeFile(accountID, e.cache); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	e.dirty = false
	return nil
}

// writeFile persists a cache atomically: marshal to a temp file in the same
// directory, fsync, then rename over the final path. A crash mid-write leaves
// the previous file intact.
func (r *cacheRepository) writeFile(accountID string, cache *models.AccountCache) error {
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}

	cache.FormatVersion = models.CacheFormatVersion

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling cache")
	}

	tmp, err := os.CreateTemp(r.baseDir, accountID+"_*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp cache file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "writing temp cache file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "syncing temp cache file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "closing temp cache file")
	}

	if err := os.Rename(tmpPath, r.filePath(accountID)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "replacing cache file")
	}
	return nil
}

func (r *cacheRepository) Query(ctx context.Context, accountID string, filter interfaces.QueryFilter) ([]*models.Message, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Query")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, filter.Folder)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	needle := strings.ToLower(filter.Text)

	var results []*models.Message
	for name, fc := range e.cache.Folders {
		if filter.Folder != "" && name != filter.Folder {
			continue
		}
		for _, msg := range fc.Messages {
			if filter.UnseenOnly && msg.Flags.Seen {
				continue
			}
			if filter.FlaggedOnly && !msg.Flags.Flagged {
				continue
			}
			if needle != "" && !messageMatches(msg, needle) {
				continue
			}
			results = append(results, cloneMessage(msg))
			if filter.Limit > 0 && len(results) >= filter.Limit {
				span.LogFields(tracingLog.Int("results", len(results)))
				return results, nil
			}
		}
	}

	span.LogFields(tracingLog.Int("results", len(results)))
	return results, nil
}

func messageMatches(msg *models.Message, needle string) bool {
	if strings.Contains(strings.ToLower(msg.Subject), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.CleanSubject), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.From.Name), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.From.Address), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.Snippet), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.BodyText), needle) {
		return true
	}
	return false
}

func (r *cacheRepository) GetCursor(ctx context.Context, accountID, folder string) (uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.GetCursor")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folder)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	fc, ok := e.cache.Folders[folder]
	if !ok {
		return 0, nil
	}
	return fc.LastSyncCursor, nil
}

func (r *cacheRepository) FolderFlags(ctx context.Context, accountID, folder string) (map[uint32]models.MessageFlags, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.FolderFlags")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folder)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	fc, ok := e.cache.Folders[folder]
	if !ok {
		return map[uint32]models.MessageFlags{}, nil
	}

	flags := make(map[uint32]models.MessageFlags, len(fc.Messages))
	for _, msg := range fc.Messages {
		flags[msg.UID] = msg.Flags
	}
	return flags, nil
}

func (r *cacheRepository) Stats(ctx context.Context, accountID string) (map[string]interfaces.FolderStats, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Stats")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := make(map[string]interfaces.FolderStats, len(e.cache.Folders))
	for name, fc := range e.cache.Folders {
		unseen := 0
		for _, msg := range fc.Messages {
			if !msg.Flags.Seen {
				unseen++
			}
		}
		stats[name] = interfaces.FolderStats{
			Cached:   len(fc.Messages),
			Unseen:   unseen,
			Cursor:   fc.LastSyncCursor,
			LastSync: fc.LastSyncAt,
		}
	}
	return stats, nil
}

func (r *cacheRepository) ListFolders(ctx context.Context, accountID string) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.ListFolders")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	names := e.cache.FolderNames()
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "INBOX" {
			return true
		}
		if names[j] == "INBOX" {
			return false
		}
		return names[i] < names[j]
	})
	return names, nil
}

func (r *cacheRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.ListAccountIDs")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *cacheRepository) Compact(ctx context.Context, accountID string, maxPerFolder int) (int, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Compact")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	if maxPerFolder <= 0 {
		return 0, nil
	}

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for _, fc := range e.cache.Folders {
		if len(fc.Messages) <= maxPerFolder {
			continue
		}
		sort.Slice(fc.Messages, func(i, j int) bool {
			return fc.Messages[i].UID < fc.Messages[j].UID
		})
		drop := len(fc.Messages) - maxPerFolder
		fc.Messages = append([]*models.Message(nil), fc.Messages[drop:]...)
		removed += drop
	}

	if removed == 0 {
		return 0, nil
	}

	e.cache.LastUpdated = utils.Now()
	e.dirty = true
	if err := r.writeFile(accountID, e.cache); err != nil {
		tracing.TraceErr(span, err)
		return removed, err
	}
	e.dirty = false

	span.LogFields(tracingLog.Int("removed", removed))
	return removed, nil
}

func (r *cacheRepository) Delete(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Delete")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	r.mu.Lock()
	delete(r.accounts, accountID)
	r.mu.Unlock()

	if err := os.Remove(r.filePath(accountID)); err != nil && !os.IsNotExist(err) {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "removing cache file")
	}
	return nil
}

func (r *cacheRepository) Evict(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "cacheRepository.Evict")
	defer span.Finish()
	tracing.TagComponentFileRepository(span)
	tracing.TagAccount(span, accountID)

	r.mu.Lock()
	delete(r.accounts, accountID)
	r.mu.Unlock()
	return nil
}

func cloneCache(c *models.AccountCache) *models.AccountCache {
	clone := &models.AccountCache{
		FormatVersion: c.FormatVersion,
		AccountEmail:  c.AccountEmail,
		LastUpdated:   c.LastUpdated,
		Folders:       make(map[string]*models.FolderCache, len(c.Folders)),
	}
	for name, fc := range c.Folders {
		folderClone := &models.FolderCache{
			LastSyncCursor: fc.LastSyncCursor,
			LastSyncAt:     fc.LastSyncAt,
			Messages:       make([]*models.Message, 0, len(fc.Messages)),
		}
		for _, msg := range fc.Messages {
			folderClone.Messages = append(folderClone.Messages, cloneMessage(msg))
		}
		clone.Folders[name] = folderClone
	}
	return clone
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	if len(m.To) > 0 {
		clone.To = append([]models.EmailParticipant(nil), m.To...)
	}
	if len(m.Cc) > 0 {
		clone.Cc = append([]models.EmailParticipant(nil), m.Cc...)
	}
	return &clone
}
