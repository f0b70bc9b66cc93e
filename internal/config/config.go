/**
 * @description
 * This package handles configuration management for the collections engine.
 * It uses the Viper library to read configuration from environment variables
 * (with an optional .env file for local development), providing a centralized
 * and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the collections engine.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	RedisGuardPrefix    string `mapstructure:"REDIS_GUARD_PREFIX"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	AnalyticsExchange   string `mapstructure:"ANALYTICS_EXCHANGE"`
	CronAuthToken       string `mapstructure:"CRON_AUTH_TOKEN"`
	JWKSURL             string `mapstructure:"JWKS_URL"`
	AuthIssuer          string `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string `mapstructure:"AUTH_AUDIENCE"`
	CORSAllowedOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	EscalationCron      string `mapstructure:"ESCALATION_CRON"`
	VerificationCron    string `mapstructure:"VERIFICATION_SWEEP_CRON"`
	EnableScheduler     bool   `mapstructure:"ENABLE_SCHEDULER"`
	EscalationBatchSize int    `mapstructure:"ESCALATION_BATCH_SIZE"`
	DispatchThrottleMS  int    `mapstructure:"DISPATCH_THROTTLE_MS"`

	// Escalation level day thresholds. Strictly ascending; global per
	// deployment, not per freelancer.
	GentleAfterDays int `mapstructure:"LEVEL_GENTLE_DAYS"`
	FirmAfterDays   int `mapstructure:"LEVEL_FIRM_DAYS"`
	FinalAfterDays  int `mapstructure:"LEVEL_FINAL_DAYS"`
	AgencyAfterDays int `mapstructure:"LEVEL_AGENCY_DAYS"`

	// Payment claim verification window and freelancer nudge offsets.
	VerificationWindowHours  int `mapstructure:"VERIFICATION_WINDOW_HOURS"`
	ClaimReminderFirstHours  int `mapstructure:"CLAIM_REMINDER_FIRST_HOURS"`
	ClaimReminderUrgentHours int `mapstructure:"CLAIM_REMINDER_URGENT_HOURS"`

	// Late Payment of Commercial Debts (Interest) Act rates, annual percent.
	StatutoryInterestRate float64 `mapstructure:"STATUTORY_INTEREST_RATE"`
	BOEBaseRate           float64 `mapstructure:"BOE_BASE_RATE"`

	SendgridAPIKey       string `mapstructure:"SENDGRID_API_KEY"`
	CollectionsFromEmail string `mapstructure:"COLLECTIONS_FROM_EMAIL"`
	CollectionsFromName  string `mapstructure:"COLLECTIONS_FROM_NAME"`
	TwilioAccountSID     string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber     string `mapstructure:"TWILIO_FROM_NUMBER"`
	LobAPIKey            string `mapstructure:"LOB_API_KEY"`
	AgencyAPIURL         string `mapstructure:"AGENCY_API_URL"`
	AgencyAPIKey         string `mapstructure:"AGENCY_API_KEY"`
	PaymentLinkBaseURL   string `mapstructure:"PAYMENT_LINK_BASE_URL"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("REDIS_GUARD_PREFIX", "recoup:collections")
	viper.SetDefault("ANALYTICS_EXCHANGE", "collections_events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://recoup.uk")
	viper.SetDefault("ESCALATION_CRON", "0 10 * * *")
	viper.SetDefault("VERIFICATION_SWEEP_CRON", "0 * * * *")
	viper.SetDefault("ENABLE_SCHEDULER", true)
	viper.SetDefault("ESCALATION_BATCH_SIZE", 50)
	viper.SetDefault("DISPATCH_THROTTLE_MS", 250)
	viper.SetDefault("LEVEL_GENTLE_DAYS", 5)
	viper.SetDefault("LEVEL_FIRM_DAYS", 15)
	viper.SetDefault("LEVEL_FINAL_DAYS", 30)
	viper.SetDefault("LEVEL_AGENCY_DAYS", 60)
	viper.SetDefault("VERIFICATION_WINDOW_HOURS", 48)
	viper.SetDefault("CLAIM_REMINDER_FIRST_HOURS", 24)
	viper.SetDefault("CLAIM_REMINDER_URGENT_HOURS", 6)
	viper.SetDefault("STATUTORY_INTEREST_RATE", 8.0)
	viper.SetDefault("BOE_BASE_RATE", 5.25)
	viper.SetDefault("COLLECTIONS_FROM_NAME", "Recoup Collections")
	viper.SetDefault("PAYMENT_LINK_BASE_URL", "https://recoup.uk/pay")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_GUARD_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ANALYTICS_EXCHANGE")
	_ = viper.BindEnv("CRON_AUTH_TOKEN", "CRON_AUTH_TOKEN", "COLLECTIONS_CRON_AUTH_TOKEN")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("ESCALATION_CRON")
	_ = viper.BindEnv("VERIFICATION_SWEEP_CRON")
	_ = viper.BindEnv("ENABLE_SCHEDULER")
	_ = viper.BindEnv("ESCALATION_BATCH_SIZE")
	_ = viper.BindEnv("DISPATCH_THROTTLE_MS")
	_ = viper.BindEnv("LEVEL_GENTLE_DAYS")
	_ = viper.BindEnv("LEVEL_FIRM_DAYS")
	_ = viper.BindEnv("LEVEL_FINAL_DAYS")
	_ = viper.BindEnv("LEVEL_AGENCY_DAYS")
	_ = viper.BindEnv("VERIFICATION_WINDOW_HOURS")
	_ = viper.BindEnv("CLAIM_REMINDER_FIRST_HOURS")
	_ = viper.BindEnv("CLAIM_REMINDER_URGENT_HOURS")
	_ = viper.BindEnv("STATUTORY_INTEREST_RATE")
	_ = viper.BindEnv("BOE_BASE_RATE")
	_ = viper.BindEnv("SENDGRID_API_KEY")
	_ = viper.BindEnv("COLLECTIONS_FROM_EMAIL")
	_ = viper.BindEnv("COLLECTIONS_FROM_NAME")
	_ = viper.BindEnv("TWILIO_ACCOUNT_SID")
	_ = viper.BindEnv("TWILIO_AUTH_TOKEN")
	_ = viper.BindEnv("TWILIO_FROM_NUMBER")
	_ = viper.BindEnv("LOB_API_KEY")
	_ = viper.BindEnv("AGENCY_API_URL")
	_ = viper.BindEnv("AGENCY_API_KEY")
	_ = viper.BindEnv("PAYMENT_LINK_BASE_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.CronAuthToken) == "" {
		config.CronAuthToken = strings.TrimSpace(os.Getenv("COLLECTIONS_CRON_AUTH_TOKEN"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisGuardPrefix = strings.TrimSpace(config.RedisGuardPrefix)
	if config.RedisGuardPrefix == "" {
		config.RedisGuardPrefix = "recoup:collections"
	}

	if config.EscalationBatchSize <= 0 {
		config.EscalationBatchSize = 50
	}
	if config.EscalationBatchSize > 200 {
		log.Printf("level=warn component=config msg=\"escalation batch size too large; capping at 200\" batch_size=%d", config.EscalationBatchSize)
		config.EscalationBatchSize = 200
	}
	if config.DispatchThrottleMS < 0 {
		log.Printf("level=warn component=config msg=\"negative dispatch throttle configured; coercing to zero\" throttle_ms=%d", config.DispatchThrottleMS)
		config.DispatchThrottleMS = 0
	}

	// The level table only makes sense strictly ascending; restore the
	// defaults wholesale rather than guessing a partial fix.
	if config.GentleAfterDays <= 0 || config.FirmAfterDays <= config.GentleAfterDays ||
		config.FinalAfterDays <= config.FirmAfterDays || config.AgencyAfterDays <= config.FinalAfterDays {
		log.Printf("level=warn component=config msg=\"escalation thresholds not strictly ascending; restoring defaults\" gentle=%d firm=%d final=%d agency=%d",
			config.GentleAfterDays, config.FirmAfterDays, config.FinalAfterDays, config.AgencyAfterDays)
		config.GentleAfterDays = 5
		config.FirmAfterDays = 15
		config.FinalAfterDays = 30
		config.AgencyAfterDays = 60
	}

	if config.VerificationWindowHours <= 0 {
		config.VerificationWindowHours = 48
	}
	if config.ClaimReminderFirstHours <= 0 || config.ClaimReminderFirstHours >= config.VerificationWindowHours {
		config.ClaimReminderFirstHours = 24
	}
	if config.ClaimReminderUrgentHours <= 0 || config.ClaimReminderUrgentHours >= config.ClaimReminderFirstHours {
		config.ClaimReminderUrgentHours = 6
	}

	if config.StatutoryInterestRate < 0 {
		log.Printf("level=warn component=config msg=\"negative statutory interest rate configured; coercing to zero\" rate=%f", config.StatutoryInterestRate)
		config.StatutoryInterestRate = 0
	}
	if config.BOEBaseRate < 0 {
		log.Printf("level=warn component=config msg=\"negative BoE base rate configured; coercing to zero\" rate=%f", config.BOEBaseRate)
		config.BOEBaseRate = 0
	}

	return
}
