package sync

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/repository"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testConfig() *config.Config {
	return &config.Config{
		SyncConfig: &config.SyncConfig{
			PollIntervalSeconds:  3600,
			CycleTimeoutSeconds:  5,
			BackoffMinSeconds:    0,
			BackoffMaxSeconds:    1,
			MaxAuthFailures:      3,
			InitialFetchCount:    50,
			BatchFetchCount:      500,
			MaxFoldersAllMode:    5,
			StopTimeoutSeconds:   2,
			SearchTimeoutSeconds: 2,
		},
	}
}

// fakeServer scripts the remote side of a sync cycle. Every client built by
// its factory shares the same state, so tests can fail one connection attempt
// and let the next succeed.
type fakeServer struct {
	mu          sync.Mutex
	connectErrs []error
	authErrs    []error
	selectErrs  map[string]error
	folders     []string
	messages    map[string][]*models.Message
	searchUIDs  []uint32
	searchErr   error
	connects    int
	auths       int
	selects     map[string]int
	searches    int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		folders:    []string{"INBOX"},
		messages:   map[string][]*models.Message{},
		selectErrs: map[string]error{},
		selects:    map[string]int{},
	}
}

func (s *fakeServer) factory(account *models.Account, password string) interfaces.IMAPClient {
	return &fakeClient{server: s}
}

func (s *fakeServer) addMessage(folder string, msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[folder] = append(s.messages[folder], msg)
}

func (s *fakeServer) removeMessage(folder string, uid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[folder][:0]
	for _, m := range s.messages[folder] {
		if m.UID != uid {
			kept = append(kept, m)
		}
	}
	s.messages[folder] = kept
}

func (s *fakeServer) setFlags(folder string, uid uint32, flags models.MessageFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[folder] {
		if m.UID == uid {
			m.Flags = flags
		}
	}
}

func (s *fakeServer) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeServer) authCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auths
}

func (s *fakeServer) selectCount(folder string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects[folder]
}

type fakeClient struct {
	server *fakeServer
}

func (c *fakeClient) Connect(ctx context.Context) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeClient) Authenticate(ctx context.Context) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths++
	if len(s.authErrs) > 0 {
		err := s.authErrs[0]
		s.authErrs = s.authErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeClient) ListFolders(ctx context.Context) ([]string, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.folders...), nil
}

func (c *fakeClient) SelectFolder(ctx context.Context, folder string) (*interfaces.FolderInfo, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects[folder]++
	if err := s.selectErrs[folder]; err != nil {
		return nil, err
	}
	return &interfaces.FolderInfo{Name: folder, Messages: uint32(len(s.messages[folder]))}, nil
}

func (c *fakeClient) FetchSince(ctx context.Context, folder string, sinceUID uint32, maxCount int) ([]*models.Message, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Message
	for _, m := range s.messages[folder] {
		if sinceUID > 0 && m.UID <= sinceUID {
			continue
		}
		clone := *m
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })

	if maxCount > 0 && len(out) > maxCount {
		if sinceUID == 0 {
			out = out[len(out)-maxCount:]
		} else {
			out = out[:maxCount]
		}
	}
	return out, nil
}

func (c *fakeClient) FetchFlags(ctx context.Context, folder string, uptoUID uint32) (map[uint32]models.MessageFlags, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[uint32]models.MessageFlags)
	for _, m := range s.messages[folder] {
		if m.UID <= uptoUID {
			result[m.UID] = m.Flags
		}
	}
	return result, nil
}

func (c *fakeClient) FetchByUIDs(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		wanted[uid] = true
	}

	var out []*models.Message
	for _, m := range s.messages[folder] {
		if wanted[m.UID] {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (c *fakeClient) Search(ctx context.Context, folder string, query string) ([]uint32, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return append([]uint32(nil), s.searchUIDs...), nil
}

func (c *fakeClient) Close() error { return nil }

// captureEvents records everything published for later assertions.
type captureEvents struct {
	mu     sync.Mutex
	events []interfaces.MailEvent
}

func (c *captureEvents) Publish(ctx context.Context, event interfaces.MailEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEvents) Subscribe(buffer int) (<-chan interfaces.MailEvent, func()) {
	ch := make(chan interfaces.MailEvent)
	close(ch)
	return ch, func() {}
}

func (c *captureEvents) Close() {}

func (c *captureEvents) ofType(eventType enum.EventType) []interfaces.MailEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interfaces.MailEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type staticCredentials struct {
	password string
	err      error
}

func (s staticCredentials) Password(account *models.Account) (string, error) {
	return s.password, s.err
}

func (s staticCredentials) Resolve(ref string) (string, error) {
	return s.password, s.err
}

type harness struct {
	service  *syncService
	server   *fakeServer
	events   *captureEvents
	repo     interfaces.CacheRepository
	cacheDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	server := newFakeServer()
	events := &captureEvents{}
	cacheDir := t.TempDir()
	repositories := repository.InitRepositories(cacheDir, getLogger())

	service := NewSyncService(
		testConfig(),
		getLogger(),
		repositories,
		events,
		server.factory,
		staticCredentials{password: "secret"},
	).(*syncService)

	return &harness{
		service:  service,
		server:   server,
		events:   events,
		repo:     repositories.CacheRepository,
		cacheDir: cacheDir,
	}
}

func testAccount(email string) *models.Account {
	account := &models.Account{
		Email:      email,
		ImapServer: "imap.example.com",
		ImapPort:   993,
		Security:   enum.EmailSecuritySSL,
	}
	account.EnsureID()
	return account
}

func serverMessage(uid uint32, subject string) *models.Message {
	return &models.Message{
		UID:      uid,
		Subject:  subject,
		From:     models.EmailParticipant{Name: "Sender", Address: "sender@example.com"},
		SentAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Minute),
		Snippet:  "snippet of " + subject,
		BodyText: "body of " + subject,
	}
}

// startWorker registers the account and builds a worker without launching
// the run loop, so tests drive cycles synchronously.
func startWorker(t *testing.T, h *harness, account *models.Account) *accountWorker {
	t.Helper()
	require.NoError(t, h.service.AddAccount(context.Background(), account))
	_, cancel := context.WithCancel(context.Background())
	return newAccountWorker(h.service, account, cancel)
}

func TestWorkerCycle_InitialSyncPopulatesCache(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.addMessage("INBOX", serverMessage(101, "first"))
	h.server.addMessage("INBOX", serverMessage(102, "second"))
	h.server.addMessage("INBOX", serverMessage(103, "third"))

	account := testAccount("user@example.com")
	worker := startWorker(t, h, account)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.NoError(t, err)

	cursor, err := h.repo.GetCursor(context.Background(), account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(103), cursor)

	cache, err := h.repo.Load(context.Background(), account.ID)
	require.NoError(t, err)
	require.Contains(t, cache.Folders, "INBOX")
	assert.Len(t, cache.Folders["INBOX"].Messages, 3)

	state, _ := worker.snapshot()
	assert.Equal(t, enum.ConnectionConnected, state.Status)
	assert.NotNil(t, state.LastSyncAt)
	assert.Zero(t, state.ConsecutiveFailures)

	updated := h.events.ofType(enum.EventMessagesUpdated)
	require.Len(t, updated, 1)
	require.NotNil(t, updated[0].Summary)
	assert.Equal(t, 3, updated[0].Summary.Added)
	assert.Len(t, h.events.ofType(enum.EventSyncCompleted), 1)
}

func TestWorkerCycle_SecondCycleIsIncremental(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.addMessage("INBOX", serverMessage(10, "old"))
	h.server.addMessage("INBOX", serverMessage(11, "older"))

	account := testAccount("user@example.com")
	worker := startWorker(t, h, account)
	require.NoError(t, worker.runCycle(context.Background()))

	h.server.addMessage("INBOX", serverMessage(12, "fresh"))

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.NoError(t, err)

	cursor, err := h.repo.GetCursor(context.Background(), account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), cursor)

	cache, err := h.repo.Load(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Len(t, cache.Folders["INBOX"].Messages, 3)
}

func TestWorkerCycle_FlagChangeAndExpunge(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.addMessage("INBOX", serverMessage(10, "keep"))
	h.server.addMessage("INBOX", serverMessage(11, "expunged"))
	h.server.addMessage("INBOX", serverMessage(12, "flagged later"))

	account := testAccount("user@example.com")
	worker := startWorker(t, h, account)
	require.NoError(t, worker.runCycle(context.Background()))

	h.server.setFlags("INBOX", 12, models.MessageFlags{Seen: true})
	h.server.removeMessage("INBOX", 11)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.NoError(t, err)

	cache, err := h.repo.Load(context.Background(), account.ID)
	require.NoError(t, err)
	messages := cache.Folders["INBOX"].Messages
	require.Len(t, messages, 2)

	flagged := cache.FindMessage("INBOX", 12)
	require.NotNil(t, flagged)
	assert.True(t, flagged.Flags.Seen)
	assert.Equal(t, "body of flagged later", flagged.BodyText, "flag update must not clobber the body")

	assert.Nil(t, cache.FindMessage("INBOX", 11))

	// Expunges never move the cursor backwards.
	cursor, err := h.repo.GetCursor(context.Background(), account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), cursor)
}

func TestWorkerCycle_FailureLeavesCursorAndCache(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.addMessage("INBOX", serverMessage(10, "first"))
	h.server.addMessage("INBOX", serverMessage(12, "second"))

	account := testAccount("user@example.com")
	worker := startWorker(t, h, account)
	require.NoError(t, worker.runCycle(context.Background()))

	h.server.mu.Lock()
	h.server.connectErrs = []error{er.NewConnectError(er.ConnectTimeout, "imap.example.com:993", errors.New("dial timeout"))}
	h.server.mu.Unlock()

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.Error(t, err)
	assert.True(t, er.IsConnectError(err))

	cursor, cursorErr := h.repo.GetCursor(context.Background(), account.ID, "INBOX")
	require.NoError(t, cursorErr)
	assert.Equal(t, uint32(12), cursor, "failed cycle must not advance the cursor")

	cache, loadErr := h.repo.Load(context.Background(), account.ID)
	require.NoError(t, loadErr)
	assert.Len(t, cache.Folders["INBOX"].Messages, 2, "cache stays readable after a failed cycle")
}

func TestWorkerCycle_FolderErrorDoesNotStopOthers(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.addMessage("Work", serverMessage(7, "report"))
	h.server.selectErrs["INBOX"] = er.NewProtocolError("select", "INBOX", errors.New("mailbox unavailable"))

	account := testAccount("user@example.com")
	account.SyncFolders = []string{"INBOX", "Work"}
	worker := startWorker(t, h, account)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.NoError(t, err, "one bad folder must not fail the cycle")

	cursor, cursorErr := h.repo.GetCursor(context.Background(), account.ID, "Work")
	require.NoError(t, cursorErr)
	assert.Equal(t, uint32(7), cursor)
}

func TestWorkerCycle_ConnectionLossAbortsRemainingFolders(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.selectErrs["INBOX"] = er.NewProtocolError("select", "INBOX", errors.New("connection closed"))
	h.server.addMessage("Work", serverMessage(7, "report"))

	account := testAccount("user@example.com")
	account.SyncFolders = []string{"INBOX", "Work"}
	worker := startWorker(t, h, account)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.Error(t, err)
	assert.Equal(t, 0, h.server.selectCount("Work"), "dead session must not serve further folders")
}

func TestWorkerCycle_AllFoldersDiscoveryIsCapped(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.folders = []string{"INBOX", "Sent", "Drafts", "Work", "Travel", "Receipts", "Newsletters"}
	for i, folder := range h.server.folders {
		h.server.addMessage(folder, serverMessage(uint32(i+1), "msg"))
	}

	account := testAccount("user@example.com")
	account.SyncFolders = []string{"ALL"}
	worker := startWorker(t, h, account)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, h.server.selectCount("Receipts"))
	assert.Equal(t, 0, h.server.selectCount("Newsletters"))
	assert.Equal(t, 1, h.server.selectCount("INBOX"))
	assert.Equal(t, 1, h.server.selectCount("Travel"))
}

func TestWorkerCycle_CredentialFailureIsAuthError(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.service.credentials = staticCredentials{err: er.ErrCredentialNotFound}

	account := testAccount("user@example.com")
	worker := startWorker(t, h, account)

	// Act
	err := worker.runCycle(context.Background())

	// Assert
	require.Error(t, err)
	assert.True(t, er.IsAuthError(err))
	assert.Equal(t, 0, h.server.connectCount(), "no connection attempt without credentials")
}

func TestWorker_AuthLockoutParksUntilRefresh(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.server.mu.Lock()
	h.server.authErrs = []error{
		er.NewAuthError("user@example.com", errors.New("invalid credentials")),
		er.NewAuthError("user@example.com", errors.New("invalid credentials")),
		er.NewAuthError("user@example.com", errors.New("invalid credentials")),
	}
	h.server.mu.Unlock()

	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(context.Background(), account))
	require.NoError(t, h.service.Start(context.Background()))
	defer func() { require.NoError(t, h.service.Stop()) }()

	// Act: the worker burns through its allowed attempts and parks.
	require.Eventually(t, func() bool {
		status := h.service.Status()[account.ID]
		return status.State.AuthFailures >= 3 && status.State.Status == enum.ConnectionError
	}, 10*time.Second, 20*time.Millisecond)

	attemptsWhileParked := h.server.authCount()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, attemptsWhileParked, h.server.authCount(), "parked worker must not retry on its own")

	require.NoError(t, h.service.RefreshNow(context.Background(), account.ID))

	// Assert: the refresh clears the lockout and the next attempt succeeds.
	require.Eventually(t, func() bool {
		return h.service.Status()[account.ID].State.Status == enum.ConnectionConnected
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, attemptsWhileParked+1, h.server.authCount())
}
