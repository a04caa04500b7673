package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	PageSpeed PageSpeedConfig
	Audit     AuditConfig
	N8N       N8NConfig
	Auth      AuthConfig
	Mail      MailConfig
	Mailchimp MailchimpConfig
	Leads     LeadsConfig
	Persona   PersonaConfig
	Tasks     TasksConfig
	Queue     QueueConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	AdminPath          string
	AllowedOrigins     []string
	CSRFTrustedOrigins []string
	PublicRateLimit    int
	IsDevelopment      bool
	// ProxyHeader names the header holding the client IP behind a reverse
	// proxy, e.g. X-Forwarded-For. Empty uses the socket address.
	ProxyHeader string
	// TrustedProxies limits ProxyHeader to requests from these addresses.
	TrustedProxies []string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type PageSpeedConfig struct {
	APIKey      string
	Endpoint    string
	TimeoutSec  int
	CacheTTLSec int
}

type AuditConfig struct {
	SSLTimeoutSec   int
	CrawlTimeoutSec int
	LinkTimeoutSec  int
	MaxLinks        int
	LinkWorkers     int
	CriticalSSLDays int
	DraftTimeoutSec int
	DraftAttempts   int
}

type N8NConfig struct {
	APIKey string
}

type AuthConfig struct {
	JWTSecret         string
	TokenTTLMinutes   int
	StaffUsername     string
	StaffPasswordHash string
}

type MailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminEmail string
}

type MailchimpConfig struct {
	APIKey     string
	DataCenter string
	AudienceID string
}

type LeadsConfig struct {
	BookingURL string
}

type PersonaConfig struct {
	Name    string
	Title   string
	Email   string
	Website string
}

type TasksConfig struct {
	Workers   int
	QueueSize int
}

type QueueConfig struct {
	Prefix          string
	ConsumerGroup   string
	BlockTimeoutSec int
	ClaimMinIdleSec int
	MaxDeliveries   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// legacyEnv maps config keys onto the environment variable names the deployment
// already exports.
var legacyEnv = map[string][]string{
	"llm.apiKey":           {"OPENAI_API_KEY"},
	"pageSpeed.apiKey":     {"GOOGLE_PAGESPEED_KEY"},
	"n8n.apiKey":           {"N8N_DJANGO_API_KEY", "N8N_API_KEY"},
	"mail.username":        {"EMAIL_HOST_USER"},
	"mail.password":        {"EMAIL_HOST_PASSWORD"},
	"mail.adminEmail":      {"ADMIN_EMAIL"},
	"mailchimp.apiKey":     {"MAILCHIMP_API_KEY"},
	"mailchimp.dataCenter": {"MAILCHIMP_DATA_CENTER"},
	"mailchimp.audienceID": {"MAILCHIMP_AUDIENCE_ID"},
	"redis.url":            {"REDIS_URL"},
	"server.adminPath":     {"DJANGO_ADMIN_URL"},
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/portfolio")

	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, names := range legacyEnv {
		envKey := "PORTFOLIO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, envKey}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Server.AdminPath = strings.Trim(config.Server.AdminPath, "/")
	if config.Server.AdminPath == "" {
		config.Server.AdminPath = "admin"
	}
	if config.Mail.From == "" {
		config.Mail.From = config.Mail.Username
	}
	if config.Mail.AdminEmail == "" {
		config.Mail.AdminEmail = config.Mail.Username
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	// the synchronous audit endpoint waits on PageSpeed for up to two minutes
	v.SetDefault("server.writeTimeout", 180)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.adminPath", "admin")
	v.SetDefault("server.allowedOrigins", []string{
		"https://www.missbott.online",
		"https://missbott.online",
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	})
	v.SetDefault("server.csrfTrustedOrigins", []string{
		"http://localhost:5173",
		"http://127.0.0.1:5173",
		"https://missbott.online",
		"https://www.missbott.online",
	})
	v.SetDefault("server.publicRateLimit", 20)
	v.SetDefault("server.isDevelopment", false)
	v.SetDefault("server.proxyHeader", "")
	v.SetDefault("server.trustedProxies", []string{})

	v.SetDefault("sqlite.path", "./data/portfolio.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 1500)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("pageSpeed.apiKey", "")
	v.SetDefault("pageSpeed.endpoint", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("pageSpeed.timeoutSec", 120)
	v.SetDefault("pageSpeed.cacheTTLSec", 3600)

	v.SetDefault("audit.sslTimeoutSec", 10)
	v.SetDefault("audit.crawlTimeoutSec", 15)
	v.SetDefault("audit.linkTimeoutSec", 5)
	v.SetDefault("audit.maxLinks", 20)
	v.SetDefault("audit.linkWorkers", 8)
	v.SetDefault("audit.criticalSSLDays", 14)
	v.SetDefault("audit.draftTimeoutSec", 20)
	v.SetDefault("audit.draftAttempts", 2)

	v.SetDefault("n8n.apiKey", "")

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTLMinutes", 720)
	v.SetDefault("auth.staffUsername", "admin")
	v.SetDefault("auth.staffPasswordHash", "")

	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.adminEmail", "")

	v.SetDefault("mailchimp.apiKey", "")
	v.SetDefault("mailchimp.dataCenter", "")
	v.SetDefault("mailchimp.audienceID", "")

	v.SetDefault("leads.bookingURL", "https://calendly.com/missbott/strategy-review")

	v.SetDefault("persona.name", "Miss Bott")
	v.SetDefault("persona.title", "Digital Consultant & Solutions Architect")
	v.SetDefault("persona.email", "developer@missbott.online")
	v.SetDefault("persona.website", "https://missbott.online")

	v.SetDefault("tasks.workers", 2)
	v.SetDefault("tasks.queueSize", 64)

	v.SetDefault("queue.prefix", "portfolio")
	v.SetDefault("queue.consumerGroup", "auditors")
	v.SetDefault("queue.blockTimeoutSec", 5)
	v.SetDefault("queue.claimMinIdleSec", 600)
	v.SetDefault("queue.maxDeliveries", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// RedisAddr returns host:port; a non-empty URL takes precedence when connecting.
func (c RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
