package sync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	tracingLog "github.com/opentracing/opentracing-go/log"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/tracing"
	"github.com/disqualifier/mailtime/internal/utils"
)

// accountWorker runs the poll loop for a single account. Exactly one worker
// exists per visible account while the service is running.
type accountWorker struct {
	service   *syncService
	account   *models.Account
	cancel    context.CancelFunc
	doneCh    chan struct{}
	refreshCh chan struct{}

	mu          sync.Mutex
	state       models.SyncState
	lastChecked time.Time
}

func newAccountWorker(service *syncService, account *models.Account, cancel context.CancelFunc) *accountWorker {
	return &accountWorker{
		service:   service,
		account:   account,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
		refreshCh: make(chan struct{}, 1),
		state:     models.SyncState{Status: enum.ConnectionDisconnected},
	}
}

func (w *accountWorker) run(ctx context.Context) {
	defer w.service.wg.Done()
	defer close(w.doneCh)

	cfg := w.service.cfg.SyncConfig
	retry := &backoff.Backoff{
		Min:    time.Duration(cfg.BackoffMinSeconds) * time.Second,
		Max:    time.Duration(cfg.BackoffMaxSeconds) * time.Second,
		Factor: 2,
		Jitter: true,
	}
	pollInterval := w.account.PollEvery(time.Duration(cfg.PollIntervalSeconds) * time.Second)

	for {
		if ctx.Err() != nil {
			return
		}

		err := w.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			retry.Reset()
			if !w.sleep(ctx, pollInterval) {
				return
			}
			continue
		}

		w.recordFailure(err)

		if w.authLocked() {
			log.Printf("[%s] Too many authentication failures, pausing until refresh", w.account.ID)
			if !w.waitRefresh(ctx) {
				return
			}
			continue
		}

		delay := retry.Duration()
		w.scheduleRetry(delay)
		log.Printf("[%s] Sync failed, retrying in %s: %v", w.account.ID, delay.Round(time.Second), err)
		if !w.sleep(ctx, delay) {
			return
		}
	}
}

// stop cancels the worker and waits, bounded, for the loop to exit.
func (w *accountWorker) stop(timeout time.Duration) {
	w.cancel()
	select {
	case <-w.doneCh:
	case <-time.After(timeout):
		log.Printf("[%s] Timeout waiting for account worker to stop", w.account.ID)
	}
}

// refresh wakes the worker ahead of its timer and clears an authentication
// lockout so a parked worker attempts one more cycle.
func (w *accountWorker) refresh() {
	w.mu.Lock()
	w.state.AuthFailures = 0
	w.mu.Unlock()

	select {
	case w.refreshCh <- struct{}{}:
	default:
	}
}

func (w *accountWorker) snapshot() (models.SyncState, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.lastChecked
}

// runCycle performs one full connect-sync-disconnect pass.
func (w *accountWorker) runCycle(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "AccountWorker.runCycle")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, w.account.ID)
	span.SetTag("cycle.id", uuid.New().String())

	cfg := w.service.cfg.SyncConfig
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.CycleTimeoutSeconds)*time.Second)
	defer cancel()

	w.setStatus(ctx, enum.ConnectionConnecting)

	password, err := w.service.credentials.Password(w.account)
	if err != nil {
		err = er.NewAuthError(w.account.Username(), err)
		tracing.TraceErr(span, err)
		return err
	}

	client := w.service.clientFactory(w.account, password)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	w.setStatus(ctx, enum.ConnectionAuthenticating)
	if err := client.Authenticate(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	w.setStatus(ctx, enum.ConnectionSyncing)

	folders, err := w.resolveFolders(ctx, client)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogFields(tracingLog.Int("folder_count", len(folders)))

	var firstErr error
	synced := 0
	changed := make([]models.SyncSummary, 0, len(folders))

	for _, folder := range folders {
		summary, err := w.syncFolder(ctx, client, folder)
		if err != nil {
			log.Printf("[%s][%s] Folder sync failed: %v", w.account.ID, folder, err)
			if firstErr == nil {
				firstErr = err
			}
			// A dead session cannot serve the remaining folders.
			if er.IsConnectionLost(err) || ctx.Err() != nil {
				break
			}
			continue
		}
		synced++
		if summary.Changed() {
			changed = append(changed, summary)
		}
	}

	if synced == 0 && firstErr != nil {
		tracing.TraceErr(span, firstErr)
		return firstErr
	}

	w.markSynced(ctx)

	for _, summary := range changed {
		s := summary
		w.service.publishEvent(ctx, interfaces.MailEvent{
			Type:      enum.EventMessagesUpdated,
			AccountID: w.account.ID,
			Email:     w.account.Email,
			Summary:   &s,
		})
	}
	w.service.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventSyncCompleted,
		AccountID: w.account.ID,
		Email:     w.account.Email,
		Status:    enum.ConnectionConnected,
	})

	return nil
}

// syncFolder brings one folder's cache up to date: flag reconciliation for
// the window already synced, then new messages past the cursor.
func (w *accountWorker) syncFolder(ctx context.Context, client interfaces.IMAPClient, folder string) (models.SyncSummary, error) {
	start := time.Now()
	repo := w.service.repositories.CacheRepository

	info, err := client.SelectFolder(ctx, folder)
	if err != nil {
		return models.SyncSummary{}, err
	}

	cursor, err := repo.GetCursor(ctx, w.account.ID, folder)
	if err != nil {
		return models.SyncSummary{}, err
	}

	var incoming []*models.Message
	var deleted []uint32

	if cursor > 0 {
		incoming, deleted, err = w.reconcileFlags(ctx, client, folder, cursor)
		if err != nil {
			return models.SyncSummary{}, err
		}
	}

	maxCount := w.service.cfg.SyncConfig.BatchFetchCount
	if cursor == 0 {
		maxCount = w.service.cfg.SyncConfig.InitialFetchCount
	}

	fetched, err := client.FetchSince(ctx, folder, cursor, maxCount)
	if err != nil {
		return models.SyncSummary{}, err
	}
	incoming = append(incoming, fetched...)

	result, err := repo.Merge(ctx, w.account.ID, folder, incoming, deleted)
	if err != nil {
		return models.SyncSummary{}, err
	}
	if err := repo.Save(ctx, w.account.ID); err != nil {
		return models.SyncSummary{}, err
	}

	summary := models.SyncSummary{
		Folder:     folder,
		Added:      result.Added,
		Updated:    result.Updated,
		Removed:    result.Removed,
		DurationMs: time.Since(start).Milliseconds(),
	}

	log.Printf("[%s][%s] Folder sync complete: %d added, %d updated, %d removed (%d messages on server)",
		w.account.ID, folder, result.Added, result.Updated, result.Removed, info.Messages)

	return summary, nil
}

// reconcileFlags diffs server flags against the cache for UIDs at or below
// the cursor. Cached UIDs the server no longer reports were expunged; UIDs
// above the cursor are untouched because they were never fetched.
func (w *accountWorker) reconcileFlags(ctx context.Context, client interfaces.IMAPClient, folder string, cursor uint32) ([]*models.Message, []uint32, error) {
	serverFlags, err := client.FetchFlags(ctx, folder, cursor)
	if err != nil {
		return nil, nil, err
	}

	cached, err := w.service.repositories.CacheRepository.FolderFlags(ctx, w.account.ID, folder)
	if err != nil {
		return nil, nil, err
	}

	var updates []*models.Message
	var deleted []uint32

	for uid, flags := range cached {
		if uid > cursor {
			continue
		}
		current, present := serverFlags[uid]
		if !present {
			deleted = append(deleted, uid)
			continue
		}
		if !current.Equal(flags) {
			updates = append(updates, &models.Message{
				UID:    uid,
				Folder: folder,
				Flags:  current,
			})
		}
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].UID < updates[j].UID })
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })

	return updates, deleted, nil
}

func (w *accountWorker) resolveFolders(ctx context.Context, client interfaces.IMAPClient) ([]string, error) {
	if !w.account.WantsAllFolders() {
		return w.account.FoldersOfInterest(), nil
	}

	folders, err := client.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	if max := w.service.cfg.SyncConfig.MaxFoldersAllMode; max > 0 && len(folders) > max {
		log.Printf("[%s] Limiting folder discovery to %d of %d folders", w.account.ID, max, len(folders))
		folders = folders[:max]
	}

	return folders, nil
}

func (w *accountWorker) setStatus(ctx context.Context, status enum.ConnectionStatus) {
	w.mu.Lock()
	if w.state.Status == status {
		w.mu.Unlock()
		return
	}
	w.state.Status = status
	w.mu.Unlock()

	w.service.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventStatusChanged,
		AccountID: w.account.ID,
		Email:     w.account.Email,
		Status:    status,
	})
}

func (w *accountWorker) markSynced(ctx context.Context) {
	now := utils.Now()

	w.mu.Lock()
	changed := w.state.Status != enum.ConnectionConnected
	w.state.Status = enum.ConnectionConnected
	w.state.LastSyncAt = utils.TimePtr(now)
	w.state.LastError = ""
	w.state.ConsecutiveFailures = 0
	w.state.AuthFailures = 0
	w.state.NextRetryAt = nil
	w.lastChecked = now
	w.mu.Unlock()

	if !changed {
		return
	}
	w.service.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventStatusChanged,
		AccountID: w.account.ID,
		Email:     w.account.Email,
		Status:    enum.ConnectionConnected,
	})
}

func (w *accountWorker) recordFailure(err error) {
	w.mu.Lock()
	w.state.Status = enum.ConnectionError
	w.state.LastError = err.Error()
	w.state.ConsecutiveFailures++
	if er.IsAuthError(err) {
		w.state.AuthFailures++
	}
	w.lastChecked = utils.Now()
	w.mu.Unlock()

	w.service.publishEvent(context.Background(), interfaces.MailEvent{
		Type:      enum.EventStatusChanged,
		AccountID: w.account.ID,
		Email:     w.account.Email,
		Status:    enum.ConnectionError,
		Error:     err.Error(),
	})
}

func (w *accountWorker) authLocked() bool {
	max := w.service.cfg.SyncConfig.MaxAuthFailures
	if max <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.AuthFailures >= max
}

func (w *accountWorker) scheduleRetry(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.NextRetryAt = utils.TimePtr(utils.Now().Add(delay))
}

// sleep waits out the delay, returning early on refresh. It reports false
// when the worker context ended.
func (w *accountWorker) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.refreshCh:
		return true
	case <-timer.C:
		return true
	}
}

// waitRefresh parks until an explicit refresh arrives.
func (w *accountWorker) waitRefresh(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.refreshCh:
		return true
	}
}
