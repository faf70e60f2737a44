package services

import (
	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/credential"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/repository"
	"github.com/disqualifier/mailtime/services/events"
	"github.com/disqualifier/mailtime/services/imap"
	"github.com/disqualifier/mailtime/services/mailbox"
	syncsvc "github.com/disqualifier/mailtime/services/sync"
)

type Services struct {
	EventsService  interfaces.EventsService
	SyncService    interfaces.SyncService
	MailboxService interfaces.MailboxService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) *Services {
	eventsService := events.NewEventsService(log)

	syncService := syncsvc.NewSyncService(
		cfg,
		log,
		repos,
		eventsService,
		imap.NewClient,
		credential.NewResolver(),
	)

	return &Services{
		EventsService:  eventsService,
		SyncService:    syncService,
		MailboxService: mailbox.NewMailboxService(log, repos, syncService),
	}
}
