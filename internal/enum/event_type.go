package enum

type EventType string

const (
	EventStatusChanged   EventType = "status_changed"
	EventSyncCompleted   EventType = "sync_completed"
	EventMessagesUpdated EventType = "messages_updated"
	EventAccountAdded    EventType = "account_added"
	EventAccountRemoved  EventType = "account_removed"
)

func (t EventType) String() string {
	return string(t)
}
