package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hedgeco/opskernel/internal/domain"
)

// Config is the root configuration of the kernel. Loaded once at startup and
// passed by reference; nothing mutates it afterwards. The API-key table,
// role table and queue table live here as immutable values, not as runtime
// state.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	SafeSend SafeSendConfig `mapstructure:"safe_send"`
	Queues   []QueueConfig  `mapstructure:"queues"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`

	Roles domain.RoleTable `mapstructure:"roles"`
}

// ServerConfig describes the HTTP boundary.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig describes the audit store connection. An empty URL switches
// the kernel to the in-memory store (dev mode).
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig describes the queue backend and rate-window connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIKeyEntry binds one bearer key to exactly one role. Keys are stored
// bcrypt-hashed; a plaintext Key field is honored only as a dev convenience
// and hashed at load time.
type APIKeyEntry struct {
	Role    string `mapstructure:"role"`
	KeyHash string `mapstructure:"key_hash"`
	Key     string `mapstructure:"key"`
}

// AuthConfig holds the static caller-identity tables.
type AuthConfig struct {
	Keys           []APIKeyEntry `mapstructure:"keys"`
	PrivilegedRole string        `mapstructure:"privileged_role"`

	// CompletionSecret signs the per-job completion tokens workers use to
	// report terminal outcomes. May also arrive via AUTH_COMPLETION_SECRET.
	CompletionSecret string        `mapstructure:"completion_secret"`
	CompletionTTL    time.Duration `mapstructure:"completion_ttl"`
}

// PolicyConfig feeds the rule set of the policy evaluator.
type PolicyConfig struct {
	HighRiskActions []string       `mapstructure:"high_risk_actions"`
	RateCeilings    map[string]int `mapstructure:"rate_ceilings"`
	SensitiveStates []string       `mapstructure:"sensitive_states"`
}

// SafeSendConfig feeds the compliance evaluator.
type SafeSendConfig struct {
	AllowedDomains   []string      `mapstructure:"allowed_domains"`
	HighRiskFlags    []string      `mapstructure:"high_risk_flags"`
	MediumRiskFlags  []string      `mapstructure:"medium_risk_flags"`
	MinThrottleMs    int           `mapstructure:"min_throttle_ms"`
	MediumAudience   int           `mapstructure:"medium_audience"`
	HighAudience     int           `mapstructure:"high_audience"`
	ApprovalLeadTime time.Duration `mapstructure:"approval_lead_time"`
}

// RetryConfig is the per-queue retry policy. High-stakes queues configure
// StrategyNone: a failed approval or publish job surfaces for human
// re-submission instead of retrying silently.
type RetryConfig struct {
	Strategy    string        `mapstructure:"strategy"` // none, fixed, exponential
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// QueueConfig is the static definition of one named queue.
type QueueConfig struct {
	Name string `mapstructure:"name"`

	// PriorityActions is an ordered list; a submitted action's priority is
	// its 1-based position (1 = most urgent). Unlisted actions get 0,
	// meaning "no explicit priority", and sort after every listed action.
	PriorityActions []string `mapstructure:"priority_actions"`

	WorkerConcurrency int         `mapstructure:"worker_concurrency"`
	Retry             RetryConfig `mapstructure:"retry"`

	// EstimatedLatency feeds the estimatedCompletion field of admission
	// responses.
	EstimatedLatency time.Duration `mapstructure:"estimated_latency"`
}

// EngineConfig tunes the audit recorder and backend reliability wrapper.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	BackendRateLimit  float64       `mapstructure:"backend_rate_limit"`
	BackendBurst      int           `mapstructure:"backend_burst"`
	CBMaxRequests     uint32        `mapstructure:"cb_max_requests"`
	CBInterval        time.Duration `mapstructure:"cb_interval"`
	CBTimeout         time.Duration `mapstructure:"cb_timeout"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
}

// LoggerConfig tunes zap.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges the config file, ENV overrides and defaults. ENV wins
// over the file: QUEUES is the exception — the queue table only comes from
// file or the compiled-in defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// SERVER_PORT=9000 overrides server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file: ENV and defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	applyStaticTables(&cfg)

	if s := os.Getenv("AUTH_COMPLETION_SECRET"); s != "" {
		cfg.Auth.CompletionSecret = s
	}
	if cfg.Auth.CompletionSecret == "" {
		return nil, errors.New("auth.completion_secret is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("postgres.max_conns", 15)
	v.SetDefault("postgres.min_conns", 5)
	v.SetDefault("auth.privileged_role", "operator")
	v.SetDefault("auth.completion_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.backend_rate_limit", 100.0)
	v.SetDefault("engine.backend_burst", 20)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.ping_timeout", 2*time.Second)
	v.SetDefault("safe_send.min_throttle_ms", 1000)
	v.SetDefault("safe_send.medium_audience", 1000)
	v.SetDefault("safe_send.high_audience", 10000)
	v.SetDefault("safe_send.approval_lead_time", time.Hour)
}

// applyStaticTables fills the tables viper defaults cannot express (slices
// of structs, maps of structs) when the file leaves them empty.
func applyStaticTables(cfg *Config) {
	if len(cfg.Roles) == 0 {
		cfg.Roles = domain.DefaultRoles()
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultQueues()
	}
	if len(cfg.Policy.HighRiskActions) == 0 {
		cfg.Policy.HighRiskActions = DefaultHighRiskActions()
	}
	if len(cfg.Policy.RateCeilings) == 0 {
		cfg.Policy.RateCeilings = DefaultRateCeilings()
	}
	if len(cfg.Policy.SensitiveStates) == 0 {
		cfg.Policy.SensitiveStates = []string{"pending_verification", "under_review", "suspended"}
	}
	if len(cfg.SafeSend.AllowedDomains) == 0 {
		cfg.SafeSend.AllowedDomains = []string{"hedgeco.net", "mail.hedgeco.net", "alerts.hedgeco.net"}
	}
	if len(cfg.SafeSend.HighRiskFlags) == 0 {
		cfg.SafeSend.HighRiskFlags = []string{"guaranteed_returns", "investment_advice", "performance_claims"}
	}
	if len(cfg.SafeSend.MediumRiskFlags) == 0 {
		cfg.SafeSend.MediumRiskFlags = []string{"promotional", "limited_time", "urgency_language"}
	}
}

// Queue names are part of the routing contract in the admission package.
const (
	QueueApprovals     = "approvals"
	QueuePublish       = "publish"
	QueueEmail         = "email"
	QueueEmbeddings    = "embeddings"
	QueueWebhooks      = "webhooks"
	QueueNotifications = "notifications"
)

// DefaultQueues is the compiled-in queue table. Retry policy is per queue
// family: exponential for email, fixed for webhooks, none for the
// human-stakes approval and publish queues. Publish runs with a worker
// concurrency of one so publishing never races with itself.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{
			Name:              QueueApprovals,
			PriorityActions:   []string{"approve_membership", "approve_fund_listing", "approve_manager_profile"},
			WorkerConcurrency: 2,
			Retry:             RetryConfig{Strategy: "none", MaxAttempts: 1},
			EstimatedLatency:  time.Hour,
		},
		{
			Name:              QueuePublish,
			PriorityActions:   []string{"publish_article", "publish_fund_update"},
			WorkerConcurrency: 1,
			Retry:             RetryConfig{Strategy: "none", MaxAttempts: 1},
			EstimatedLatency:  10 * time.Minute,
		},
		{
			Name:              QueueEmail,
			PriorityActions:   []string{"send_password_reset", "send_verification", "send_newsletter"},
			WorkerConcurrency: 4,
			Retry:             RetryConfig{Strategy: "exponential", MaxAttempts: 5, BaseDelay: 30 * time.Second},
			EstimatedLatency:  5 * time.Minute,
		},
		{
			Name:              QueueEmbeddings,
			PriorityActions:   []string{"embed_fund_profile"},
			WorkerConcurrency: 2,
			Retry:             RetryConfig{Strategy: "exponential", MaxAttempts: 3, BaseDelay: time.Minute},
			EstimatedLatency:  15 * time.Minute,
		},
		{
			Name:              QueueWebhooks,
			PriorityActions:   nil,
			WorkerConcurrency: 8,
			Retry:             RetryConfig{Strategy: "fixed", MaxAttempts: 10, BaseDelay: 15 * time.Second},
			EstimatedLatency:  time.Minute,
		},
		{
			Name:              QueueNotifications,
			PriorityActions:   []string{"notify_admin"},
			WorkerConcurrency: 8,
			Retry:             RetryConfig{Strategy: "fixed", MaxAttempts: 3, BaseDelay: 10 * time.Second},
			EstimatedLatency:  time.Minute,
		},
	}
}

// DefaultHighRiskActions always require a high-level human approval gate,
// whatever role asks for them.
func DefaultHighRiskActions() []string {
	return []string{
		"approve_membership",
		"approve_fund_listing",
		"publish_article",
		"publish_fund_update",
		"send_newsletter",
		"delete_user",
		"change_user_role",
		"process_payment",
	}
}

// DefaultRateCeilings caps actions per hour per action name.
func DefaultRateCeilings() map[string]int {
	return map[string]int{
		"send_newsletter":    2,
		"send_notification":  500,
		"approve_membership": 50,
		"publish_article":    20,
		"trigger_webhook":    1000,
	}
}
