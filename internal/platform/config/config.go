// Package config lee la configuración del proceso desde variables de entorno,
// una sola vez al arrancar.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DLQMemory = "memory"
	DLQSQS    = "sqs"
	DLQKafka  = "kafka"
)

type Config struct {
	Port  string
	DBDSN string

	LogLevel  string
	LogFormat string
	AppName   string

	Resuggest ResuggestConfig
	Workflow  WorkflowConfig

	WebhookFlowSecret string

	DLQ DLQConfig
	// AWSEndpoint apunta SQS/S3 a localstack; vacío usa la config default de AWS.
	AWSEndpoint string

	IdP     IdPConfig
	OpenAI  OpenAIConfig
	PowerBI PowerBIConfig

	FlowWebhookURL string
	MetricsAddr    string
}

type ResuggestConfig struct {
	// 0 desactiva el debounce.
	MinInterval    time.Duration
	LockPerEpisode bool
	// Si es true el consumer del DLQ vuelve a correr la re-sugerencia completa.
	DLQFullReplay bool
}

type WorkflowConfig struct {
	StrictTransitions bool
}

type DLQConfig struct {
	Provider string

	SQSQueueName         string
	SQSVisibilityTimeout time.Duration
	SQSRetryVisibility   time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	MaxAttempts   int
	IdleDelay     time.Duration
	MaxRetryWait  time.Duration
	ArchiveBucket string
}

type IdPConfig struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
}

type OpenAIConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
}

type PowerBIConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	WorkspaceID  string
	DatasetID    string
}

// Load usa os.LookupEnv.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func load(lookup lookupFunc) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		Port:      e.str("PORT", "8080"),
		DBDSN:     e.str("DB_DSN", ""),
		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "text"),
		AppName:   e.str("APP_NAME", "clinical-coding"),

		Resuggest: ResuggestConfig{
			MinInterval:    e.duration("RESUGGEST_MIN_INTERVAL", 5*time.Minute),
			LockPerEpisode: e.boolean("RESUGGEST_LOCK_PER_EPISODE", true),
			DLQFullReplay:  e.boolean("RESUGGEST_DLQ_FULL_REPLAY", false),
		},
		Workflow: WorkflowConfig{
			StrictTransitions: e.boolean("WORKFLOW_STRICT_TRANSITIONS", false),
		},

		WebhookFlowSecret: e.str("WEBHOOK_FLOW_SECRET", ""),

		DLQ: DLQConfig{
			Provider:             strings.ToLower(e.str("DLQ_PROVIDER", DLQMemory)),
			SQSQueueName:         e.str("DLQ_SQS_QUEUE_NAME", "resuggest-dlq"),
			SQSVisibilityTimeout: e.duration("DLQ_SQS_VISIBILITY_TIMEOUT", time.Minute),
			SQSRetryVisibility:   e.duration("DLQ_SQS_RETRY_VISIBILITY", 10*time.Minute),
			KafkaBrokers:         e.list("DLQ_KAFKA_BROKERS"),
			KafkaTopic:           e.str("DLQ_KAFKA_TOPIC", "resuggest-dlq"),
			KafkaGroup:           e.str("DLQ_KAFKA_GROUP", "resuggest-dlq-worker"),
			MaxAttempts:          e.integer("DLQ_MAX_ATTEMPTS", 5),
			IdleDelay:            e.duration("DLQ_IDLE_DELAY", 5*time.Second),
			MaxRetryWait:         e.duration("DLQ_MAX_RETRY_WAIT", 5*time.Minute),
			ArchiveBucket:        e.str("DLQ_ARCHIVE_BUCKET", ""),
		},

		AWSEndpoint: e.str("AWS_ENDPOINT_URL", ""),

		IdP: IdPConfig{
			BaseURL:  e.str("IDP_BASE_URL", ""),
			APIKey:   e.str("IDP_API_KEY", ""),
			CacheTTL: e.duration("IDP_CACHE_TTL", time.Minute),
		},
		OpenAI: OpenAIConfig{
			APIKey:     e.str("OPENAI_API_KEY", ""),
			Endpoint:   e.str("OPENAI_ENDPOINT", ""),
			Deployment: e.str("OPENAI_DEPLOYMENT", ""),
		},
		PowerBI: PowerBIConfig{
			TenantID:     e.str("POWERBI_TENANT_ID", ""),
			ClientID:     e.str("POWERBI_CLIENT_ID", ""),
			ClientSecret: e.str("POWERBI_CLIENT_SECRET", ""),
			WorkspaceID:  e.str("POWERBI_WORKSPACE_ID", ""),
			DatasetID:    e.str("POWERBI_DATASET_ID", ""),
		},

		FlowWebhookURL: e.str("FLOW_WEBHOOK_URL", ""),
		MetricsAddr:    e.str("METRICS_ADDR", ":9090"),
	}

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DLQ.Provider {
	case DLQMemory, DLQSQS:
	case DLQKafka:
		if len(c.DLQ.KafkaBrokers) == 0 {
			return fmt.Errorf("config: DLQ_KAFKA_BROKERS required for kafka provider")
		}
	default:
		return fmt.Errorf("config: unknown DLQ_PROVIDER %q", c.DLQ.Provider)
	}
	if c.Resuggest.MinInterval < 0 {
		return fmt.Errorf("config: RESUGGEST_MIN_INTERVAL must not be negative")
	}
	if c.DLQ.MaxAttempts < 1 {
		return fmt.Errorf("config: DLQ_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// Addr arma la dirección de escucha a partir de PORT.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// env acumula el primer error de parseo para reportarlo una sola vez.
type env struct {
	lookup lookupFunc
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	// "0" sin unidad también vale
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
	}
}
