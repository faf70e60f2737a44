package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
)

func TestSyncService_AddAccountRejectsDuplicate(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.service.AddAccount(ctx, testAccount("user@example.com")))

	// Act: same address in a different spelling maps to the same ID.
	err := h.service.AddAccount(ctx, testAccount("  USER@example.com"))

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, er.ErrAccountExists)
	assert.Len(t, h.service.Accounts(), 1)
}

func TestSyncService_AddAccountSeedsCache(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")

	// Act
	require.NoError(t, h.service.AddAccount(ctx, account))

	// Assert
	cache, err := h.repo.Load(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", cache.AccountEmail)

	added := h.events.ofType(enum.EventAccountAdded)
	require.Len(t, added, 1)
	assert.Equal(t, account.ID, added[0].AccountID)
}

func TestSyncService_AddAccountRequiresEmail(t *testing.T) {
	// Arrange
	h := newHarness(t)

	// Act
	err := h.service.AddAccount(context.Background(), &models.Account{ImapServer: "imap.example.com"})

	// Assert
	assert.ErrorIs(t, err, er.ErrEmailMissing)
}

func TestSyncService_AccountsKeepRegistrationOrder(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	for _, email := range []string{"c@example.com", "a@example.com", "b@example.com"} {
		require.NoError(t, h.service.AddAccount(ctx, testAccount(email)))
	}

	// Act
	accounts := h.service.Accounts()

	// Assert
	require.Len(t, accounts, 3)
	assert.Equal(t, "c@example.com", accounts[0].Email)
	assert.Equal(t, "a@example.com", accounts[1].Email)
	assert.Equal(t, "b@example.com", accounts[2].Email)

	_, err := h.service.Account("no-such-id")
	assert.ErrorIs(t, err, er.ErrAccountNotFound)
}

func TestSyncService_RemoveAccountPurgesCacheFile(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	_, err := h.repo.Merge(ctx, account.ID, "INBOX", []*models.Message{serverMessage(5, "kept")}, nil)
	require.NoError(t, err)
	require.NoError(t, h.repo.Save(ctx, account.ID))

	cachePath := filepath.Join(h.cacheDir, account.ID+"_emails.json")
	_, err = os.Stat(cachePath)
	require.NoError(t, err)

	// Act
	require.NoError(t, h.service.RemoveAccount(ctx, account.ID, true))

	// Assert
	_, err = os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err), "purge must delete the cache file")

	_, err = h.service.Account(account.ID)
	assert.ErrorIs(t, err, er.ErrAccountNotFound)

	removed := h.events.ofType(enum.EventAccountRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, account.ID, removed[0].AccountID)
}

func TestSyncService_RemoveAccountKeepsCacheFileWithoutPurge(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	_, err := h.repo.Merge(ctx, account.ID, "INBOX", []*models.Message{serverMessage(5, "kept")}, nil)
	require.NoError(t, err)
	require.NoError(t, h.repo.Save(ctx, account.ID))

	// Act
	require.NoError(t, h.service.RemoveAccount(ctx, account.ID, false))

	// Assert: the file survives for a later re-add of the same address.
	_, err = os.Stat(filepath.Join(h.cacheDir, account.ID+"_emails.json"))
	assert.NoError(t, err)
}

func TestSyncService_RemoveUnknownAccount(t *testing.T) {
	// Arrange
	h := newHarness(t)

	// Act
	err := h.service.RemoveAccount(context.Background(), "no-such-id", false)

	// Assert
	assert.ErrorIs(t, err, er.ErrAccountNotFound)
}

func TestSyncService_PurgeAllCachesDeletesEveryFile(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	first := testAccount("one@example.com")
	second := testAccount("two@example.com")
	require.NoError(t, h.service.AddAccount(ctx, first))
	require.NoError(t, h.service.AddAccount(ctx, second))

	for _, account := range []*models.Account{first, second} {
		_, err := h.repo.Merge(ctx, account.ID, "INBOX", []*models.Message{serverMessage(5, "cached")}, nil)
		require.NoError(t, err)
		require.NoError(t, h.repo.Save(ctx, account.ID))
	}

	// Act
	purged, err := h.service.PurgeAllCaches(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	for _, account := range []*models.Account{first, second} {
		_, statErr := os.Stat(filepath.Join(h.cacheDir, account.ID+"_emails.json"))
		assert.True(t, os.IsNotExist(statErr))
	}

	// Accounts stay registered and start over from an empty cache.
	assert.Len(t, h.service.Accounts(), 2)
	cursor, err := h.repo.GetCursor(ctx, first.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cursor)
}

func TestSyncService_EventsReturnsTheStreamWorkersPublishOn(t *testing.T) {
	// Arrange
	h := newHarness(t)

	// Act + Assert
	assert.Same(t, h.events, h.service.Events())
}

func TestSyncService_StatusSynthesizesStoppedStates(t *testing.T) {
	// Arrange: service never started, so no workers exist.
	h := newHarness(t)
	ctx := context.Background()

	visible := testAccount("visible@example.com")
	hidden := testAccount("hidden@example.com")
	hidden.Hidden = true
	require.NoError(t, h.service.AddAccount(ctx, visible))
	require.NoError(t, h.service.AddAccount(ctx, hidden))

	// Act
	status := h.service.Status()

	// Assert
	require.Len(t, status, 2)
	assert.Equal(t, enum.ConnectionDisconnected, status[visible.ID].State.Status)
	assert.Equal(t, enum.ConnectionOffline, status[hidden.ID].State.Status)
	assert.True(t, status[hidden.ID].Hidden)
}

func TestSyncService_StatusIncludesFolderStats(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	unseen := serverMessage(7, "unread")
	seen := serverMessage(8, "read")
	seen.Flags.Seen = true
	_, err := h.repo.Merge(ctx, account.ID, "INBOX", []*models.Message{unseen, seen}, nil)
	require.NoError(t, err)

	// Act
	status := h.service.Status()

	// Assert
	folders := status[account.ID].Folders
	require.Contains(t, folders, "INBOX")
	assert.Equal(t, 2, folders["INBOX"].Cached)
	assert.Equal(t, 1, folders["INBOX"].Unseen)
	assert.Equal(t, uint32(8), folders["INBOX"].Cursor)
}

func TestSyncService_RefreshNowErrors(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	// Act / Assert
	assert.ErrorIs(t, h.service.RefreshNow(ctx, "no-such-id"), er.ErrAccountNotFound)
	assert.ErrorIs(t, h.service.RefreshNow(ctx, account.ID), er.ErrNotRunning)
}

func TestSyncService_StartStopLifecycle(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.server.addMessage("INBOX", serverMessage(3, "hello"))
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	// Act
	require.NoError(t, h.service.Start(ctx))

	// Assert
	require.Eventually(t, func() bool {
		return h.service.Status()[account.ID].State.Status == enum.ConnectionConnected
	}, 10*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, h.server.connectCount(), 1)

	cursor, err := h.repo.GetCursor(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cursor)

	require.NoError(t, h.service.Stop())
	require.NoError(t, h.service.Stop(), "stop is idempotent")
}

func TestSyncService_SetHiddenStopsAndResumesPolling(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))
	require.NoError(t, h.service.Start(ctx))
	defer func() { require.NoError(t, h.service.Stop()) }()

	require.Eventually(t, func() bool {
		return h.service.Status()[account.ID].State.Status == enum.ConnectionConnected
	}, 10*time.Second, 20*time.Millisecond)

	// Act
	require.NoError(t, h.service.SetHidden(ctx, account.ID, true))

	// Assert
	require.Eventually(t, func() bool {
		return h.service.Status()[account.ID].State.Status == enum.ConnectionOffline
	}, 10*time.Second, 20*time.Millisecond)

	connects := h.server.connectCount()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, connects, h.server.connectCount(), "hidden account must not poll")

	require.NoError(t, h.service.SetHidden(ctx, account.ID, false))
	require.Eventually(t, func() bool {
		return h.service.Status()[account.ID].State.Status == enum.ConnectionConnected
	}, 10*time.Second, 20*time.Millisecond)
	assert.Greater(t, h.server.connectCount(), connects)
}

func TestSyncService_ServerSearchServesLiveResults(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	h.server.addMessage("INBOX", serverMessage(10, "quarterly report"))
	h.server.addMessage("INBOX", serverMessage(12, "report follow-up"))
	h.server.mu.Lock()
	h.server.searchUIDs = []uint32{12, 10}
	h.server.mu.Unlock()

	// Act
	results, err := h.service.ServerSearch(ctx, account.ID, "INBOX", "report")

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Hits are served directly; the cache and its cursor stay untouched.
	cursor, err := h.repo.GetCursor(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Zero(t, cursor)

	cache, err := h.repo.Load(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, cache.Folders)
}

func TestSyncService_ServerSearchFallsBackToCache(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	account := testAccount("user@example.com")
	require.NoError(t, h.service.AddAccount(ctx, account))

	_, err := h.repo.Merge(ctx, account.ID, "INBOX", []*models.Message{serverMessage(4, "cached report")}, nil)
	require.NoError(t, err)

	h.server.mu.Lock()
	h.server.searchErr = er.ErrSearchUnsupported
	h.server.mu.Unlock()

	// Act
	results, err := h.service.ServerSearch(ctx, account.ID, "INBOX", "report")

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(4), results[0].UID)
}

func TestSyncService_ServerSearchUnknownAccount(t *testing.T) {
	// Arrange
	h := newHarness(t)

	// Act
	_, err := h.service.ServerSearch(context.Background(), "no-such-id", "INBOX", "report")

	// Assert
	assert.ErrorIs(t, err, er.ErrAccountNotFound)
}
