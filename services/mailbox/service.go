package mailbox

import (
	"context"
	"sort"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/repository"
	"github.com/disqualifier/mailtime/internal/tracing"
)

type mailboxService struct {
	log          logger.Logger
	repositories *repository.Repositories
	syncService  interfaces.SyncService
}

func NewMailboxService(log logger.Logger, repositories *repository.Repositories, syncService interfaces.SyncService) interfaces.MailboxService {
	return &mailboxService{
		log:          log,
		repositories: repositories,
		syncService:  syncService,
	}
}

// ListMessages returns one folder's cached messages, newest first. The
// repository scans in storage order, so sorting and limiting happen here.
func (s *mailboxService) ListMessages(ctx context.Context, accountID string, filter interfaces.QueryFilter) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxService.ListMessages")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, filter.Folder)

	if _, err := s.syncService.Account(accountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	limit := filter.Limit
	filter.Limit = 0

	messages, err := s.repositories.CacheRepository.Query(ctx, accountID, filter)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	sortNewestFirst(messages)
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}

	span.LogFields(tracingLog.Int("result_count", len(messages)))
	return messages, nil
}

func (s *mailboxService) ListFolders(ctx context.Context, accountID string) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxService.ListFolders")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	if _, err := s.syncService.Account(accountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return s.repositories.CacheRepository.ListFolders(ctx, accountID)
}

// SearchAcrossAccounts matches the query over every visible account's cache.
// Results stay grouped by account in configured order so the caller can
// render per-account sections directly.
func (s *mailboxService) SearchAcrossAccounts(ctx context.Context, query string) ([]interfaces.SearchHit, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxService.SearchAcrossAccounts")
	defer span.Finish()
	tracing.TagComponentService(span)

	if strings.TrimSpace(query) == "" {
		err := errors.New("search query is empty")
		tracing.TraceErr(span, err)
		return nil, err
	}

	var hits []interfaces.SearchHit
	for _, account := range s.syncService.Accounts() {
		if account.Hidden {
			continue
		}

		messages, err := s.repositories.CacheRepository.Query(ctx, account.ID, interfaces.QueryFilter{Text: query})
		if err != nil {
			s.log.Errorf("Search failed for account %s: %v", account.ID, err)
			tracing.TraceErr(span, err)
			continue
		}

		sortNewestFirst(messages)
		for _, message := range messages {
			hits = append(hits, interfaces.SearchHit{
				AccountID: account.ID,
				Email:     account.Email,
				Message:   message,
			})
		}
	}

	span.LogFields(tracingLog.Int("result_count", len(hits)))
	return hits, nil
}

func sortNewestFirst(messages []*models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SentAt.Equal(messages[j].SentAt) {
			return messages[i].UID > messages[j].UID
		}
		return messages[i].SentAt.After(messages[j].SentAt)
	})
}
