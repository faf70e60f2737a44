package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/credential"
	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/repository"
	"github.com/disqualifier/mailtime/internal/tracing"
	"github.com/disqualifier/mailtime/internal/utils"
)

type syncService struct {
	cfg           *config.Config
	log           logger.Logger
	repositories  *repository.Repositories
	events        interfaces.EventsService
	clientFactory interfaces.IMAPClientFactory
	credentials   credential.Resolver

	mu       sync.Mutex
	accounts map[string]*models.Account
	order    []string
	workers  map[string]*accountWorker
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSyncService(
	cfg *config.Config,
	log logger.Logger,
	repositories *repository.Repositories,
	events interfaces.EventsService,
	clientFactory interfaces.IMAPClientFactory,
	credentials credential.Resolver,
) interfaces.SyncService {
	return &syncService{
		cfg:           cfg,
		log:           log,
		repositories:  repositories,
		events:        events,
		clientFactory: clientFactory,
		credentials:   credentials,
		accounts:      make(map[string]*models.Account),
		workers:       make(map[string]*accountWorker),
	}
}

// Start launches one worker per visible account.
func (s *syncService) Start(ctx context.Context) error {
	span, _ := tracing.StartTracerSpan(ctx, "SyncService.Start")
	defer span.Finish()
	tracing.TagComponentService(span)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Workers outlive this call; their contexts derive from the service
	// lifetime, not the request.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	span.LogFields(tracingLog.Int("account_count", len(s.accounts)))

	for _, id := range s.order {
		account := s.accounts[id]
		if account.Hidden {
			continue
		}
		log.Printf("Starting account worker: %s (%s)", id, account.Email)
		s.startWorkerLocked(account)
	}

	return nil
}

// Stop cancels every worker and waits, bounded, for them to drain.
func (s *syncService) Stop() error {
	log.Println("Stopping sync service...")

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All account workers stopped gracefully")
	case <-time.After(s.stopTimeout()):
		log.Println("Timeout waiting for account workers to stop")
	}

	log.Println("Sync service stopped")
	return nil
}

// AddAccount registers an account and starts its worker when running. The
// account ID is derived from the email, so re-adding the same address is
// always rejected as a duplicate.
func (s *syncService) AddAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.AddAccount")
	defer span.Finish()
	tracing.TagComponentService(span)

	if account == nil {
		err := errors.New("account is nil")
		tracing.TraceErr(span, err)
		return err
	}
	if account.Email == "" {
		tracing.TraceErr(span, er.ErrEmailMissing)
		return er.ErrEmailMissing
	}

	account.EnsureID()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = utils.Now()
	}
	tracing.TagAccount(span, account.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		err := errors.Wrapf(er.ErrAccountExists, "account %s already registered", account.Email)
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.repositories.CacheRepository.EnsureAccount(ctx, account.ID, account.Email); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.accounts[account.ID] = account
	s.order = append(s.order, account.ID)

	if s.running && !account.Hidden {
		s.startWorkerLocked(account)
	}

	s.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventAccountAdded,
		AccountID: account.ID,
		Email:     account.Email,
	})

	return nil
}

// RemoveAccount detaches the account and stops its worker. The cache file
// is deleted only when purgeCache is set; otherwise it stays on disk and
// only the in-memory entry is dropped.
func (s *syncService) RemoveAccount(ctx context.Context, accountID string, purgeCache bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.RemoveAccount")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	account, exists := s.accounts[accountID]
	if !exists {
		s.mu.Unlock()
		tracing.TraceErr(span, er.ErrAccountNotFound)
		return er.ErrAccountNotFound
	}

	worker := s.workers[accountID]
	delete(s.workers, accountID)
	delete(s.accounts, accountID)
	s.order = removeID(s.order, accountID)
	s.mu.Unlock()

	if worker != nil {
		worker.stop(s.stopTimeout())
	}

	var err error
	if purgeCache {
		err = s.repositories.CacheRepository.Delete(ctx, accountID)
	} else {
		err = s.repositories.CacheRepository.Evict(ctx, accountID)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventAccountRemoved,
		AccountID: accountID,
		Email:     account.Email,
	})

	return nil
}

// RefreshNow wakes the account's worker immediately and clears an
// authentication lockout so a parked worker retries once more.
func (s *syncService) RefreshNow(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SyncService.RefreshNow")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	account, exists := s.accounts[accountID]
	worker := s.workers[accountID]
	running := s.running
	s.mu.Unlock()

	if !exists {
		tracing.TraceErr(span, er.ErrAccountNotFound)
		return er.ErrAccountNotFound
	}
	if !running {
		tracing.TraceErr(span, er.ErrNotRunning)
		return er.ErrNotRunning
	}
	if account.Hidden || worker == nil {
		return nil
	}

	worker.refresh()
	return nil
}

// RefreshAll wakes every visible account's worker.
func (s *syncService) RefreshAll(ctx context.Context) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SyncService.RefreshAll")
	defer span.Finish()
	tracing.TagComponentService(span)

	s.mu.Lock()
	workers := make([]*accountWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.refresh()
	}
}

// SetHidden stops polling for a hidden account and restarts it on unhide.
// The cache is untouched either way.
func (s *syncService) SetHidden(ctx context.Context, accountID string, hidden bool) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SyncService.SetHidden")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)
	span.LogFields(tracingLog.Bool("hidden", hidden))

	s.mu.Lock()
	account, exists := s.accounts[accountID]
	if !exists {
		s.mu.Unlock()
		tracing.TraceErr(span, er.ErrAccountNotFound)
		return er.ErrAccountNotFound
	}

	if account.Hidden == hidden {
		s.mu.Unlock()
		return nil
	}
	account.Hidden = hidden

	var worker *accountWorker
	if hidden {
		worker = s.workers[accountID]
		delete(s.workers, accountID)
	} else if s.running {
		s.startWorkerLocked(account)
	}
	s.mu.Unlock()

	if worker != nil {
		worker.stop(s.stopTimeout())
	}

	status := enum.ConnectionOffline
	if !hidden {
		status = enum.ConnectionDisconnected
	}
	s.publishEvent(ctx, interfaces.MailEvent{
		Type:      enum.EventStatusChanged,
		AccountID: accountID,
		Email:     account.Email,
		Status:    status,
	})

	return nil
}

// Status snapshots every account's sync state and cached folder stats.
func (s *syncService) Status() map[string]interfaces.AccountStatus {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	accounts := make(map[string]*models.Account, len(ids))
	workers := make(map[string]*accountWorker, len(ids))
	for _, id := range ids {
		accounts[id] = s.accounts[id]
		workers[id] = s.workers[id]
	}
	s.mu.Unlock()

	ctx := context.Background()
	result := make(map[string]interfaces.AccountStatus, len(ids))

	for _, id := range ids {
		account := accounts[id]

		status := interfaces.AccountStatus{
			AccountID: id,
			Email:     account.Email,
			Hidden:    account.Hidden,
		}

		if worker := workers[id]; worker != nil {
			status.State, status.LastChecked = worker.snapshot()
		} else if account.Hidden {
			status.State = models.SyncState{Status: enum.ConnectionOffline}
		} else {
			status.State = models.SyncState{Status: enum.ConnectionDisconnected}
		}

		if stats, err := s.repositories.CacheRepository.Stats(ctx, id); err == nil && len(stats) > 0 {
			status.Folders = stats
		}

		result[id] = status
	}

	return result
}

// Accounts returns the registered accounts in configured order.
func (s *syncService) Accounts() []*models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Account, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.accounts[id])
	}
	return result
}

func (s *syncService) Account(accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return nil, er.ErrAccountNotFound
	}
	return account, nil
}

func (s *syncService) Events() interfaces.EventsService {
	return s.events
}

// ServerSearch runs a live UID search over a dedicated short session so the
// polling session is never disturbed. Any failure degrades to the cache.
func (s *syncService) ServerSearch(ctx context.Context, accountID, folder, query string) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.ServerSearch")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folder)

	account, err := s.Account(accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	messages, err := s.liveSearch(ctx, account, folder, query)
	if err == nil {
		span.LogFields(tracingLog.Int("live_results", len(messages)))
		return messages, nil
	}

	log.Printf("[%s][%s] Live search failed, serving cached results: %v", accountID, folder, err)
	span.LogFields(tracingLog.String("fallback", "cache"))

	return s.repositories.CacheRepository.Query(ctx, accountID, interfaces.QueryFilter{
		Folder: folder,
		Text:   query,
		Limit:  s.cfg.SyncConfig.InitialFetchCount,
	})
}

func (s *syncService) liveSearch(ctx context.Context, account *models.Account, folder, query string) ([]*models.Message, error) {
	password, err := s.credentials.Password(account)
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.SyncConfig.SearchTimeoutSeconds)*time.Second)
	defer cancel()

	client := s.clientFactory(account, password)
	defer client.Close()

	if err := client.Connect(searchCtx); err != nil {
		return nil, err
	}
	if err := client.Authenticate(searchCtx); err != nil {
		return nil, err
	}

	uids, err := client.Search(searchCtx, folder, query)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	if max := s.cfg.SyncConfig.InitialFetchCount; max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	// Hits are served directly and never merged: arbitrary UIDs entering
	// Merge would drag the folder cursor past unfetched messages.
	return client.FetchByUIDs(searchCtx, folder, uids)
}

// PurgeAllCaches deletes every registered account's cache file. Workers keep
// running; their next cycle starts over from an empty cache.
func (s *syncService) PurgeAllCaches(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.PurgeAllCaches")
	defer span.Finish()
	tracing.TagComponentService(span)

	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	purged := 0
	var firstErr error
	for _, id := range ids {
		if err := s.repositories.CacheRepository.Delete(ctx, id); err != nil {
			s.log.Errorf("Failed to purge cache for account %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		purged++
	}

	span.LogFields(tracingLog.Int("purged", purged))
	if firstErr != nil {
		tracing.TraceErr(span, firstErr)
	}
	return purged, firstErr
}

// startWorkerLocked launches a worker for the account. Caller holds s.mu.
func (s *syncService) startWorkerLocked(account *models.Account) {
	ctx, cancel := context.WithCancel(s.ctx)
	worker := newAccountWorker(s, account, cancel)
	s.workers[account.ID] = worker

	s.wg.Add(1)
	go worker.run(ctx)
}

func (s *syncService) stopTimeout() time.Duration {
	seconds := s.cfg.SyncConfig.StopTimeoutSeconds
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

func (s *syncService) publishEvent(ctx context.Context, event interfaces.MailEvent) {
	if s.events == nil {
		return
	}
	event.Source = "sync"
	s.events.Publish(ctx, event)
}

func removeID(order []string, id string) []string {
	result := order[:0]
	for _, entry := range order {
		if entry != id {
			result = append(result, entry)
		}
	}
	return result
}
