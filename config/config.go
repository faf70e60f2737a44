package config

type AppConfig struct {
	APIPort      string `env:"PORT" envDefault:"12400"`
	APIKey       string `env:"API_KEY,required"`
	AccountsFile string `env:"MAILTIME_ACCOUNTS_FILE" envDefault:"accounts.json"`
}

type CacheConfig struct {
	Dir             string `env:"MAILTIME_CACHE_DIR" envDefault:".mailtime/cache"`
	MaxPerFolder    int    `env:"MAILTIME_CACHE_MAX_PER_FOLDER" envDefault:"5000"`
	CompactSchedule string `env:"MAILTIME_CACHE_COMPACT_SCHEDULE" envDefault:"0 0 3 * * *"`
}

type SyncConfig struct {
	PollIntervalSeconds  int    `env:"MAILTIME_POLL_INTERVAL_SECONDS" envDefault:"300"`
	CycleTimeoutSeconds  int    `env:"MAILTIME_CYCLE_TIMEOUT_SECONDS" envDefault:"300"`
	BackoffMinSeconds    int    `env:"MAILTIME_BACKOFF_MIN_SECONDS" envDefault:"5"`
	BackoffMaxSeconds    int    `env:"MAILTIME_BACKOFF_MAX_SECONDS" envDefault:"300"`
	MaxAuthFailures      int    `env:"MAILTIME_MAX_AUTH_FAILURES" envDefault:"3"`
	InitialFetchCount    int    `env:"MAILTIME_INITIAL_FETCH_COUNT" envDefault:"50"`
	BatchFetchCount      int    `env:"MAILTIME_BATCH_FETCH_COUNT" envDefault:"500"`
	MaxFoldersAllMode    int    `env:"MAILTIME_MAX_FOLDERS_ALL_MODE" envDefault:"5"`
	StopTimeoutSeconds   int    `env:"MAILTIME_STOP_TIMEOUT_SECONDS" envDefault:"10"`
	SearchTimeoutSeconds int    `env:"MAILTIME_SEARCH_TIMEOUT_SECONDS" envDefault:"30"`
	HeartbeatSchedule    string `env:"MAILTIME_HEARTBEAT_SCHEDULE" envDefault:"0 * * * * *"`
}

// DefaultIMAPConfig fills in the server endpoint for account descriptors
// that only carry an email address.
type DefaultIMAPConfig struct {
	Host     string `env:"MAILTIME_DEFAULT_IMAP_HOST"`
	Port     int    `env:"MAILTIME_DEFAULT_IMAP_PORT" envDefault:"993"`
	Security string `env:"MAILTIME_DEFAULT_IMAP_SECURITY" envDefault:"ssl"`
}
