package interfaces

import (
	"context"

	"github.com/disqualifier/mailtime/internal/models"
)

// MailboxService is the read path over cached messages. It is purely a
// projection: it never mutates the cache.
type MailboxService interface {
	// ListMessages returns cached messages for one folder, newest first.
	ListMessages(ctx context.Context, accountID string, filter QueryFilter) ([]*models.Message, error)
	// ListFolders returns the folders cached for an account.
	ListFolders(ctx context.Context, accountID string) ([]string, error)
	// SearchAcrossAccounts matches a substring over every visible
	// account's cache. Hits are grouped by account in configured order,
	// newest first within each account.
	SearchAcrossAccounts(ctx context.Context, query string) ([]SearchHit, error)
}

// SearchHit is one search result tagged with its owning account.
type SearchHit struct {
	AccountID string          `json:"accountId"`
	Email     string          `json:"email"`
	Message   *models.Message `json:"message"`
}
