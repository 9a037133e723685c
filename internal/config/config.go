package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every environment-driven setting of the reminder engine.
// Only this struct must be used to hold configuration values, no direct
// access to env, ini or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"reminder_engine"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	ProfilerEnable bool `env:"PROFILER_ENABLE"`
	ProfilerPort   int  `env:"PROFILER_PORT"`

	LogLevel []string `env:"LOG_LEVEL"`

	QueueName              string        `env:"QUEUE_NAME" default:"appointment-events"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"reminder-engine"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME" default:"consumer"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"1"`

	// Reminder timing. Offsets count backwards from the appointment
	// start; comma-separated Go durations, e.g. "24h,2h".
	ReminderOffsets       []string      `env:"REMINDER_OFFSETS"`
	DispatchPollInterval  time.Duration `env:"DISPATCH_POLL_INTERVAL"`
	DispatchBatchSize     int           `env:"DISPATCH_BATCH_SIZE"`
	DispatchWorkers       int           `env:"DISPATCH_WORKERS"`
	DispatchMaxAttempts   int           `env:"DISPATCH_MAX_ATTEMPTS"`
	DispatchRetryBase     time.Duration `env:"DISPATCH_RETRY_BASE"`
	DispatchRetryCap      time.Duration `env:"DISPATCH_RETRY_CAP"`
	DispatchStaleAfter    time.Duration `env:"DISPATCH_STALE_AFTER"`

	SMSProviderPrimaryUrl   string `env:"SMS_PROVIDER_PRIMARY_URL"`
	SMSProviderSecondaryUrl string `env:"SMS_PROVIDER_SECONDARY_URL"`
	PushProviderUrl         string `env:"PUSH_PROVIDER_URL"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT"`
	SMTPUsername string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// Billing reconciliation.
	BillingProcessorUrl     string        `env:"BILLING_PROCESSOR_URL"`
	BillingGrace            time.Duration `env:"BILLING_GRACE"`
	BillingRunInterval      time.Duration `env:"BILLING_RUN_INTERVAL"`
	BillingUnbilledAlertAge time.Duration `env:"BILLING_UNBILLED_ALERT_AGE"`
}

// Offsets parses ReminderOffsets, falling back to fallback when unset
// or unparsable.
func (c *Config) Offsets(fallback []time.Duration) []time.Duration {
	if len(c.ReminderOffsets) == 0 {
		return fallback
	}
	out := make([]time.Duration, 0, len(c.ReminderOffsets))
	for _, raw := range c.ReminderOffsets {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			logger.Warn("ignoring invalid reminder offset", "offset", raw, "error", err)
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
