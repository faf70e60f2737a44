package enum

type ConnectionStatus string

const (
	ConnectionDisconnected   ConnectionStatus = "disconnected"
	ConnectionConnecting     ConnectionStatus = "connecting"
	ConnectionAuthenticating ConnectionStatus = "authenticating"
	ConnectionSyncing        ConnectionStatus = "syncing"
	ConnectionConnected      ConnectionStatus = "connected"
	ConnectionError          ConnectionStatus = "error"
	ConnectionOffline        ConnectionStatus = "offline"
)

func (t ConnectionStatus) String() string {
	return string(t)
}

// IsTerminal reports whether the worker parks in this status until user action.
func (t ConnectionStatus) IsTerminal() bool {
	return t == ConnectionOffline
}
