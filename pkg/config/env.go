package config

// EnvPrefix is handed to envconfig; every field also declares its full name.
const EnvPrefix = "KKY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StorageDriverLocal = "local"
	StorageDriverGCS   = "gcs"

	ChatFeedPoll = "poll"
	ChatFeedPush = "push"
)

const (
	EnvAppEnv                 = "KKY_APP_ENV"
	EnvPort                   = "KKY_APP_PORT"
	EnvDBDSN                  = "KKY_DB_DSN"
	EnvDBHost                 = "KKY_DB_HOST"
	EnvDBUser                 = "KKY_DB_USER"
	EnvDBName                 = "KKY_DB_NAME"
	EnvRedisURL               = "KKY_REDIS_URL"
	EnvJWTSecret              = "KKY_JWT_SECRET"
	EnvUseSQLite              = "KKY_USE_SQLITE"
	EnvStorageDriver          = "KKY_STORAGE_DRIVER"
	EnvChatFeedMode           = "KKY_CHAT_FEED_MODE"
	EnvChatStreamBudget       = "KKY_CHAT_STREAM_BUDGET"
	EnvChatStreamPollInterval = "KKY_CHAT_STREAM_POLL_INTERVAL"
	EnvPresenceGrace          = "KKY_PRESENCE_GRACE"
)

var hostDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
