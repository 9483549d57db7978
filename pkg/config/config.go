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
	PubSub       PubSubConfig
	GCP          GCPConfig
	Outbox       OutboxConfig
	Platform     PlatformConfig
	Dispatch     DispatchConfig
	Cron         CronConfig
	Webhooks     WebhookConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GREENMILE_APP_ENV" required:"true"`
	Port         string `envconfig:"GREENMILE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GREENMILE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GREENMILE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GREENMILE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GREENMILE_DB_DSN"`
	Driver string `envconfig:"GREENMILE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GREENMILE_DB_HOST"`
	LegacyPort     int    `envconfig:"GREENMILE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GREENMILE_DB_USER"`
	LegacyPassword string `envconfig:"GREENMILE_DB_PASSWORD"`
	LegacyName     string `envconfig:"GREENMILE_DB_NAME"`
	LegacySSLMode  string `envconfig:"GREENMILE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GREENMILE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GREENMILE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GREENMILE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GREENMILE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GREENMILE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GREENMILE_REDIS_ADDR"`
	Password     string        `envconfig:"GREENMILE_REDIS_PASSWORD"`
	DB           int           `envconfig:"GREENMILE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GREENMILE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GREENMILE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GREENMILE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GREENMILE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GREENMILE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GREENMILE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GREENMILE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GREENMILE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GREENMILE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GREENMILE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"GREENMILE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// CronConfig paces the sweeper worker. The interval is short because the
// dispatch sweeps enforce accept TTLs measured in minutes.
type CronConfig struct {
	Interval time.Duration `envconfig:"GREENMILE_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"GREENMILE_CRON_LOCK_TTL" default:"5m"`
}

// WebhookConfig covers the unauthenticated provider callback surface. The
// signing secret is shared with the payment and payout providers.
type WebhookConfig struct {
	SigningSecret   string        `envconfig:"GREENMILE_WEBHOOK_SIGNING_SECRET" required:"true"`
	RateLimitWindow time.Duration `envconfig:"GREENMILE_WEBHOOK_RATE_WINDOW" default:"1m"`
	RateLimitPerIP  int           `envconfig:"GREENMILE_WEBHOOK_RATE_LIMIT" default:"120"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GREENMILE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"GREENMILE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GREENMILE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic            string `envconfig:"GREENMILE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	SettlementSubscription string `envconfig:"GREENMILE_PUBSUB_SETTLEMENT_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GREENMILE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GREENMILE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GREENMILE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// PlatformConfig carries the money parameters applied at settlement time.
// Percentages are decimal strings so the math can run through
// shopspring/decimal without float drift.
type PlatformConfig struct {
	CommissionPercent string `envconfig:"GREENMILE_PLATFORM_COMMISSION_PERCENT" default:"10"`
	PayoutFeePercent  string `envconfig:"GREENMILE_PLATFORM_PAYOUT_FEE_PERCENT" default:"1.5"`
	MinPayoutCents    int64  `envconfig:"GREENMILE_PLATFORM_MIN_PAYOUT_CENTS" default:"50000"`
	// Wallet owner id for the platform's own commission wallet.
	OwnerID string `envconfig:"GREENMILE_PLATFORM_OWNER_ID" default:"00000000-0000-0000-0000-000000000001"`
}

type DispatchConfig struct {
	BaseFeeCents      int64         `envconfig:"GREENMILE_DISPATCH_BASE_FEE_CENTS" default:"50000"`
	PerKmFeeCents     int64         `envconfig:"GREENMILE_DISPATCH_PER_KM_FEE_CENTS" default:"20000"`
	EcoBonusPerKm     int64         `envconfig:"GREENMILE_DISPATCH_ECO_BONUS_PER_KM_CENTS" default:"10000"`
	MaxFeeCents       int64         `envconfig:"GREENMILE_DISPATCH_MAX_FEE_CENTS" default:"500000"`
	AcceptTTL         time.Duration `envconfig:"GREENMILE_DISPATCH_ACCEPT_TTL" default:"10m"`
	RiderGracePeriod  time.Duration `envconfig:"GREENMILE_DISPATCH_RIDER_GRACE_PERIOD" default:"30m"`
	PickupLeadTime    time.Duration `envconfig:"GREENMILE_DISPATCH_PICKUP_LEAD_TIME" default:"15m"`
	DeliveryPerKmTime time.Duration `envconfig:"GREENMILE_DISPATCH_DELIVERY_PER_KM_TIME" default:"4m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
