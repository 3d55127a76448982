package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// LoadConfig reads the optional config file and applies defaults plus
// environment overrides.
func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/securescan/")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debug().Msg("Config file not found, using defaults")
		} else {
			log.Panic().Err(err).Msg("Fatal error reading config file")
		}
	}
	SetDefaultConfig()
	bindEnvironment()
}

func SetDefaultConfig() {
	// HTTP fetcher
	viper.SetDefault("http.timeout_ms", 10000)
	viper.SetDefault("http.max_body_bytes", 2*1024*1024)
	viper.SetDefault("http.max_redirects", 5)
	viper.SetDefault("http.user_agent", "SecureScan-Worker/1.0")

	// Crawl
	viper.SetDefault("crawl.max_depth", 3)
	viper.SetDefault("crawl.max_pages", 20)

	// Scope
	viper.SetDefault("scope.exclude_patterns", []string{
		"logout", "signout", "delete",
		"facebook.com", "twitter.com", "linkedin.com", "instagram.com",
		"youtube.com", "cdn.", "fonts.googleapis.com", "cdnjs.cloudflare.com",
	})
	viper.SetDefault("scope.include_patterns", []string{})
	viper.SetDefault("scope.relevant_keywords", []string{
		"login", "search", "product", "item", "account", "user",
		"profile", "admin", "cart", "checkout", "contact", "form",
	})
	viper.SetDefault("scope.ignored_extensions", []string{
		".css", ".js", ".jpg", ".png", ".gif", ".pdf", ".zip", ".svg", ".ico",
	})

	// Worker pool
	viper.SetDefault("scan.worker_count", 5)
	viper.SetDefault("scan.rate_limit_delay_ms", 500)
	viper.SetDefault("scan.max_concurrent_requests", 10)
	viper.SetDefault("scan.shutdown_drain_seconds", 30)

	// API
	viper.SetDefault("api.listen.host", "")
	viper.SetDefault("api.listen.port", 5000)
	viper.SetDefault("api.cors.origins", []string{"*"})
}

// bindEnvironment maps the documented environment variables onto config keys.
func bindEnvironment() {
	bindings := map[string]string{
		"scan.worker_count":            "WORKER_COUNT",
		"scan.rate_limit_delay_ms":     "RATE_LIMIT_DELAY_MS",
		"scan.max_concurrent_requests": "MAX_CONCURRENT_REQUESTS",
		"crawl.max_depth":              "MAX_CRAWL_DEPTH",
		"crawl.max_pages":              "MAX_CRAWL_PAGES",
		"http.timeout_ms":              "HTTP_TIMEOUT_MS",
		"http.max_body_bytes":          "HTTP_MAX_BODY_BYTES",
		"http.user_agent":              "USER_AGENT",
		"api.listen.port":              "LISTEN_PORT",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Error().Err(err).Str("key", key).Str("env", env).Msg("Could not bind environment variable")
		}
	}
}
