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
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		SecureCookies             bool
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

	RedisConfig struct {
		URL string
	}

	GoogleConfig struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
		IssuerURL    string
	}

	AuthConfig struct {
		// DevPersonaFallback lets requests authenticate with persona headers (debug only).
		DevPersonaFallback bool
	}

	ClientConfig struct {
		APIBaseURL         string
		DevPersonaFallback bool
		StatePath          string
		Timeout            time.Duration
	}

	Config struct {
		Env              string
		Debug            bool
		TestMode         bool
		AppName          string
		Build            string
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Google   GoogleConfig
		Auth     AuthConfig
		Client   ClientConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// GoogleEnabled reports whether Google sign-in has been configured.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != "" && c.Google.RedirectURL != ""
}

// NewConfig resolves the configuration once from defaults, the optional `config/.env.<env>` file and the environment.
// Env vars are prefixed with the env name and use `_` for nesting, e.g. `DEV_SERVER_ADDRESS`.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "IELTS Tutor")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("defaultFromEmail", "IELTS Tutor <noreply@localhost>")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugAddress", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	conf.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.secureCookies", false)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "ieltstutor")
	conf.SetDefault("database.user", "ieltstutor")
	conf.SetDefault("database.password", "ieltstutor")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("redis.url", "")

	conf.SetDefault("google.clientID", "")
	conf.SetDefault("google.clientSecret", "")
	conf.SetDefault("google.redirectURL", "")
	conf.SetDefault("google.issuerURL", "https://accounts.google.com")

	conf.SetDefault("auth.devPersonaFallback", false)

	conf.SetDefault("client.apiBaseURL", "http://localhost:8000")
	conf.SetDefault("client.devPersonaFallback", false)
	conf.SetDefault("client.statePath", "")
	conf.SetDefault("client.timeout", 30*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if root, ok := ProjectRoot(); ok {
		dotEnvPath := filepath.Join(root, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	conf.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(conf.GetString("defaultFromEmail"))
	if err != nil {
		fromEmail = &mail.Address{Address: "noreply@localhost"}
	}

	return &Config{
		Env:              env,
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secretKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		DefaultFromEmail: *fromEmail,
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		Server: ServerConfig{
			Address:                   conf.GetString("server.address"),
			DebugHost:                 conf.GetString("server.debugAddress"),
			ShutdownTimeout:           conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("server.jwtRefreshExpirationDelta"),
			SecureCookies:             conf.GetBool("server.secureCookies"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			URL: conf.GetString("redis.url"),
		},
		Google: GoogleConfig{
			ClientID:     conf.GetString("google.clientID"),
			ClientSecret: conf.GetString("google.clientSecret"),
			RedirectURL:  conf.GetString("google.redirectURL"),
			IssuerURL:    conf.GetString("google.issuerURL"),
		},
		Auth: AuthConfig{
			DevPersonaFallback: conf.GetBool("auth.devPersonaFallback"),
		},
		Client: ClientConfig{
			APIBaseURL:         conf.GetString("client.apiBaseURL"),
			DevPersonaFallback: conf.GetBool("client.devPersonaFallback"),
			StatePath:          conf.GetString("client.statePath"),
			Timeout:            conf.GetDuration("client.timeout"),
		},
	}
}

// NewTestConfig returns the config used by tests: test mode with the persona fallback off.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.Auth.DevPersonaFallback = false
	conf.Client.DevPersonaFallback = false
	return conf
}
