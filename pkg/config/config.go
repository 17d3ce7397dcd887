package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Storage      StorageConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
	Chat         ChatConfig
	Presence     PresenceConfig
	Cron         CronConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Chat.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KKY_APP_ENV" required:"true"`
	Port         string `envconfig:"KKY_APP_PORT" default:"8080"`
	Name         string `envconfig:"KKY_APP_NAME" default:"kayakoyan"`
	LogLevel     string `envconfig:"KKY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KKY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KKY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KKY_DB_DSN"`
	Driver string `envconfig:"KKY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"KKY_DB_HOST"`
	Port     int    `envconfig:"KKY_DB_PORT" default:"5432"`
	User     string `envconfig:"KKY_DB_USER"`
	Password string `envconfig:"KKY_DB_PASSWORD"`
	Name     string `envconfig:"KKY_DB_NAME"`
	SSLMode  string `envconfig:"KKY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KKY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KKY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KKY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KKY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KKY_REDIS_URL"`
	Address      string        `envconfig:"KKY_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"KKY_REDIS_PASSWORD"`
	DB           int           `envconfig:"KKY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KKY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KKY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KKY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KKY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KKY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KKY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KKY_JWT_ISSUER" default:"kayakoyan"`
	ExpirationMinutes int    `envconfig:"KKY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KKY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KKY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"KKY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KKY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KKY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KKY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"KKY_GCS_BUCKET_NAME"`
}

type StorageConfig struct {
	Driver        string `envconfig:"KKY_STORAGE_DRIVER" default:"local"`
	LocalRoot     string `envconfig:"KKY_STORAGE_LOCAL_ROOT" default:"./storage"`
	PublicBaseURL string `envconfig:"KKY_STORAGE_PUBLIC_BASE_URL" default:"/storage"`
	MaxUploadMB   int    `envconfig:"KKY_STORAGE_MAX_UPLOAD_MB" default:"20"`
}

// MaxUploadBytes is the multipart body cap applied to proof and delivery uploads.
func (s StorageConfig) MaxUploadBytes() int64 {
	if s.MaxUploadMB <= 0 {
		return 20 << 20
	}
	return int64(s.MaxUploadMB) << 20
}

func (s StorageConfig) validate() error {
	switch strings.ToLower(s.Driver) {
	case StorageDriverLocal, StorageDriverGCS:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvStorageDriver, StorageDriverLocal, StorageDriverGCS)
	}
}

type PubSubConfig struct {
	OrderEventsTopic         string `envconfig:"KKY_PUBSUB_ORDER_EVENTS_TOPIC" default:"kky-order-events"`
	NotificationSubscription string `envconfig:"KKY_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"kky-order-events-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KKY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KKY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KKY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type OrdersConfig struct {
	PaymentTTL time.Duration `envconfig:"KKY_ORDERS_PAYMENT_TTL" default:"72h"`
}

type ChatConfig struct {
	StreamBudget       time.Duration `envconfig:"KKY_CHAT_STREAM_BUDGET" default:"30s"`
	StreamPollInterval time.Duration `envconfig:"KKY_CHAT_STREAM_POLL_INTERVAL" default:"2s"`
	FeedMode           string        `envconfig:"KKY_CHAT_FEED_MODE" default:"poll"`
	TypingLimit        int           `envconfig:"KKY_CHAT_TYPING_LIMIT" default:"30"`
	SendLimit          int           `envconfig:"KKY_CHAT_SEND_LIMIT" default:"60"`
	RateWindow         time.Duration `envconfig:"KKY_CHAT_RATE_WINDOW" default:"1m"`
}

func (c ChatConfig) validate() error {
	switch strings.ToLower(c.FeedMode) {
	case ChatFeedPoll, ChatFeedPush:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvChatFeedMode, ChatFeedPoll, ChatFeedPush)
	}
	if c.StreamPollInterval <= 0 || c.StreamBudget < c.StreamPollInterval {
		return fmt.Errorf("%s must be positive and not exceed %s", EnvChatStreamPollInterval, EnvChatStreamBudget)
	}
	return nil
}

type PresenceConfig struct {
	Grace time.Duration `envconfig:"KKY_PRESENCE_GRACE" default:"2s"`
	Store string        `envconfig:"KKY_PRESENCE_STORE" default:"redis"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"KKY_CRON_INTERVAL" default:"1m"`
	LockTTL               time.Duration `envconfig:"KKY_CRON_LOCK_TTL" default:"4m"`
	NotificationRetention time.Duration `envconfig:"KKY_CRON_NOTIFICATION_RETENTION" default:"720h"`
	OutboxRetention       time.Duration `envconfig:"KKY_CRON_OUTBOX_RETENTION" default:"168h"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"KKY_CORS_ALLOWED_ORIGINS" default:"*"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:kayakoyan.db?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range hostDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
