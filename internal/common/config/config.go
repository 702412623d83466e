package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Server       ServerConfig            `mapstructure:"server"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Engine       EngineConfig            `mapstructure:"engine"`
	Search       SearchConfig            `mapstructure:"search"`
	Actions      ActionsConfig           `mapstructure:"actions"`
	Auth         AuthConfig              `mapstructure:"auth"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Logging      LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP surface and its boundary checks.
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	OpsAddress     string   `mapstructure:"ops_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      float64  `mapstructure:"rate_limit"` // requests per second per credential
	RateBurst      int      `mapstructure:"rate_burst"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // milliseconds
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig holds the lane thresholds and rule-table overrides. Empty
// paths select the embedded tables.
type EngineConfig struct {
	MinWords               int     `mapstructure:"min_words"`
	DeterministicThreshold float64 `mapstructure:"deterministic_threshold"`
	FallbackFloor          float64 `mapstructure:"fallback_floor"`
	HighWeight             float64 `mapstructure:"high_weight"`
	MaxQueryLength         int     `mapstructure:"max_query_length"`
	GazetteerPath          string  `mapstructure:"gazetteer_path"`
	IntentRulesPath        string  `mapstructure:"intent_rules_path"`
}

type SearchConfig struct {
	SufficientResults int    `mapstructure:"sufficient_results"`
	PerSourceLimit    int    `mapstructure:"per_source_limit"`
	CacheTTL          int    `mapstructure:"cache_ttl"` // milliseconds
	Timeout           int    `mapstructure:"timeout"`   // milliseconds
	SourcesPath       string `mapstructure:"sources_path"`
}

type ActionsConfig struct {
	ConfirmationWindow int    `mapstructure:"confirmation_window"` // milliseconds
	CommitTimeout      int    `mapstructure:"commit_timeout"`      // milliseconds
	CatalogPath        string `mapstructure:"catalog_path"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		TenantClaim  string `mapstructure:"tenant_claim"`
	} `mapstructure:"keycloak"`
	ClaimsCacheTTL int `mapstructure:"claims_cache_ttl"` // milliseconds
}

// IntegrationConfig holds settings for outbound integrations.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled            bool   `mapstructure:"enabled"`
			ComplianceTopicARN string `mapstructure:"compliance_topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
