package interfaces

import (
	"context"
	"time"

	"github.com/disqualifier/mailtime/internal/enum"
	"github.com/disqualifier/mailtime/internal/models"
)

// MailEvent is pushed to the presentation layer whenever an account's
// status changes or a sync cycle lands messages.
type MailEvent struct {
	ID         string                `json:"id"`
	Source     string                `json:"source"`
	Type       enum.EventType        `json:"type"`
	AccountID  string                `json:"accountId"`
	Email      string                `json:"email,omitempty"`
	Status     enum.ConnectionStatus `json:"status,omitempty"`
	Error      string                `json:"error,omitempty"`
	Summary    *models.SyncSummary   `json:"summary,omitempty"`
	OccurredAt time.Time             `json:"occurredAt"`
}

// EventsService is the in-process push channel between the sync engine and
// the presentation layer. Publish never blocks the caller: subscribers that
// fall behind lose events.
type EventsService interface {
	Publish(ctx context.Context, event MailEvent)
	// Subscribe returns a receive channel and its cancel function. The
	// channel closes on cancel or service Close.
	Subscribe(buffer int) (<-chan MailEvent, func())
	Close()
}
