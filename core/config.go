package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		defaultFromEmail string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Email    EmailConfig
		OTP      OTPConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		RateLimit                 float64 // requests per second per IP on auth endpoints
		RateBurst                 int
		DisableReqLogs            bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// RedisConfig holds the flow store & lockout backend settings.
	// An empty Address selects the in-memory implementations.
	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	EmailConfig struct {
		Backend        string // console | sendgrid | smtp
		SendgridApiKey string
		SMTPHost       string
		SMTPPort       int
		SMTPUser       string
		SMTPPassword   string
	}

	OTPConfig struct {
		Length      int
		TTL         time.Duration
		MaxAttempts int
		Cooldown    time.Duration
		FlowTTL     time.Duration
		// ExposeCode returns issued codes in API responses. Demo only.
		ExposeCode bool
	}
)

// MaxCodeLength is the longest code that fits in an int64 draw.
const MaxCodeLength = 18

// Validate rejects settings no code could be issued or verified with.
func (otp OTPConfig) Validate() error {
	switch {
	case otp.Length < 1 || otp.Length > MaxCodeLength:
		return errors.Errorf("otp length must be between 1 and %d, got %d", MaxCodeLength, otp.Length)
	case otp.TTL <= 0:
		return errors.Errorf("otp ttl must be positive, got %v", otp.TTL)
	case otp.MaxAttempts < 1:
		return errors.Errorf("otp max attempts must be at least 1, got %d", otp.MaxAttempts)
	}
	return nil
}

func (conf *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(conf.defaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

func (db DatabaseConfig) IsConfigured() bool {
	return db.Name != "" && db.Host != ""
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Campus")
	v.SetDefault("secretKey", "xk2#9v!w@d0q-m7p+a4^c$e8r&l3t*1s_6y(hz)b5n%j=uf")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Campus <noreply@localhost>")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverReadTimeout", 5*time.Second)
	v.SetDefault("serverWriteTimeout", 10*time.Second)
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 30*24*time.Hour)
	v.SetDefault("serverRateLimit", 1.0)
	v.SetDefault("serverRateBurst", 10)
	v.SetDefault("serverDisableReqLogs", false)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "")
	v.SetDefault("dbUser", "")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", false)

	v.SetDefault("redisAddress", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("emailBackend", "console")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("smtpHost", "")
	v.SetDefault("smtpPort", 587)
	v.SetDefault("smtpUser", "")
	v.SetDefault("smtpPassword", "")

	v.SetDefault("otpLength", 4)
	v.SetDefault("otpTTL", 10*time.Minute)
	v.SetDefault("otpMaxAttempts", 5)
	v.SetDefault("otpCooldown", 15*time.Minute)
	v.SetDefault("otpFlowTTL", 30*time.Minute)
	v.SetDefault("otpExposeCode", false)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		RollbarToken:     v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ReadTimeout:               v.GetDuration("serverReadTimeout"),
			WriteTimeout:              v.GetDuration("serverWriteTimeout"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			RateLimit:                 v.GetFloat64("serverRateLimit"),
			RateBurst:                 v.GetInt("serverRateBurst"),
			DisableReqLogs:            v.GetBool("serverDisableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redisAddress"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		Email: EmailConfig{
			Backend:        strings.ToLower(v.GetString("emailBackend")),
			SendgridApiKey: v.GetString("sendgridApiKey"),
			SMTPHost:       v.GetString("smtpHost"),
			SMTPPort:       v.GetInt("smtpPort"),
			SMTPUser:       v.GetString("smtpUser"),
			SMTPPassword:   v.GetString("smtpPassword"),
		},
		OTP: OTPConfig{
			Length:      v.GetInt("otpLength"),
			TTL:         v.GetDuration("otpTTL"),
			MaxAttempts: v.GetInt("otpMaxAttempts"),
			Cooldown:    v.GetDuration("otpCooldown"),
			FlowTTL:     v.GetDuration("otpFlowTTL"),
			ExposeCode:  v.GetBool("otpExposeCode"),
		},
	}
	if err := conf.OTP.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

// NewTestConfig returns a Config suitable for unit tests: fixed secret, no I/O.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "Campus",
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:3000",
		defaultFromEmail: "noreply@localhost",
		Server: ServerConfig{
			Host:                      "localhost",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			RateLimit:                 1000,
			RateBurst:                 1000,
			DisableReqLogs:            true,
		},
		Email: EmailConfig{Backend: "console"},
		OTP: OTPConfig{
			Length:      4,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
			FlowTTL:     30 * time.Minute,
		},
	}
}
