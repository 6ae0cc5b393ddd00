package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Evaluator   EvaluatorConfig
	Dispatch    DispatchConfig
	Channels    ChannelsConfig
	RemoteWrite RemoteWriteConfig
	Dashboard   DashboardConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type EvaluatorConfig struct {
	SweepInterval  time.Duration
	ExpiryInterval time.Duration
	RunHistorySize int
}

type DispatchConfig struct {
	WorkerCount    int
	MaxAttempts    int
	BaseBackoff    time.Duration
	PopTimeout     time.Duration
	ChatRatePerSec float64
	ChatBurst      int
}

// ChannelsConfig carries per-channel feature flags plus the gateway endpoints
// the senders call out to.
type ChannelsConfig struct {
	EmailEnabled     bool
	SlackEnabled     bool
	DiscordEnabled   bool
	WebhookEnabled   bool
	PagerDutyEnabled bool
	TeamsEnabled     bool
	SMSEnabled       bool

	EmailAPIURL   string
	EmailAPIKey   string
	EmailFrom     string
	SMSGatewayURL string
	SMSAPIKey     string
	SMSFrom       string
	PagerDutyURL  string

	WebhookAttempts  int
	WebhookBaseDelay time.Duration
}

type RemoteWriteConfig struct {
	URL           string
	TenantHeader  string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type DashboardConfig struct {
	BaseURL string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("PULSEWATCH")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("evaluator.sweepinterval", "60s")
	viper.SetDefault("evaluator.expiryinterval", "1h")
	viper.SetDefault("evaluator.runhistorysize", 10)
	viper.SetDefault("dispatch.workercount", 5)
	viper.SetDefault("dispatch.maxattempts", 5)
	viper.SetDefault("dispatch.basebackoff", "5s")
	viper.SetDefault("dispatch.poptimeout", "5s")
	viper.SetDefault("dispatch.chatratepersec", 10)
	viper.SetDefault("dispatch.chatburst", 10)
	viper.SetDefault("channels.emailenabled", true)
	viper.SetDefault("channels.slackenabled", true)
	viper.SetDefault("channels.discordenabled", true)
	viper.SetDefault("channels.webhookenabled", true)
	viper.SetDefault("channels.pagerdutyenabled", true)
	viper.SetDefault("channels.teamsenabled", true)
	viper.SetDefault("channels.smsenabled", true)
	viper.SetDefault("channels.pagerdutyurl", "https://events.pagerduty.com/v2/enqueue")
	viper.SetDefault("channels.webhookattempts", 3)
	viper.SetDefault("channels.webhookbasedelay", "2s")
	viper.SetDefault("remotewrite.tenantheader", "X-Scope-OrgID")
	viper.SetDefault("remotewrite.batchsize", 1000)
	viper.SetDefault("remotewrite.flushinterval", "10s")
	viper.SetDefault("dashboard.baseurl", "https://app.pulsewatch.io")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("REMOTE_WRITE_URL"); url != "" {
		cfg.RemoteWrite.URL = url
	}
	if token := os.Getenv("REMOTE_WRITE_AUTH_TOKEN"); token != "" {
		cfg.RemoteWrite.AuthToken = token
	}

	return &cfg, nil
}
