package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration read from the environment.
type Config struct {
	Port              string  // HTTP port to listen on
	MongoURI          string  // MongoDB connection string
	DBName            string  // database holding the collections
	RedisURL          string  // activity consumer dedupe cache, optional
	RabbitMQURL       string  // activity queue broker, optional
	ActivityProducers int     // number of activity producers
	ActivityConsumers int     // number of activity consumers
	RateLimitRPS      float64 // sustained requests per second per client
	RateLimitBurst    int     // burst size per client
	TrustProxy        bool    // key rate limits by X-Forwarded-For
	MetricsUser       string  // basic auth user for /metrics
	MetricsPass       string  // basic auth password for /metrics
}

// Load reads the .env file at path, if any, and builds a Config from the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		log.Printf("No .env file loaded from %s: %v", path, err)
	}

	cfg := Config{
		Port:              getenv("PORT", "3000"),
		MongoURI:          os.Getenv("MONGODB_URI"),
		DBName:            getenv("DB_NAME", "terraConnect"),
		RedisURL:          os.Getenv("REDIS_URL"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		ActivityProducers: atoi(getenv("ACTIVITY_PRODUCERS", "1"), 1),
		ActivityConsumers: atoi(getenv("ACTIVITY_CONSUMERS", "2"), 2),
		RateLimitRPS:      atof(getenv("RATE_LIMIT_RPS", "5"), 5),
		RateLimitBurst:    atoi(getenv("RATE_LIMIT_BURST", "30"), 30),
		TrustProxy:        atob(os.Getenv("TRUST_PROXY")),
		MetricsUser:       os.Getenv("METRICS_USER"),
		MetricsPass:       os.Getenv("METRICS_PASS"),
	}

	if cfg.MongoURI == "" {
		cfg.MongoURI = atlasURI(os.Getenv("DB_USER"), os.Getenv("DB_PASS"), os.Getenv("DB_HOST"))
	}
	if cfg.MongoURI == "" {
		return Config{}, errors.New("missing MongoDB configuration: set MONGODB_URI or DB_USER, DB_PASS and DB_HOST")
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, fmt.Errorf("invalid PORT %q", cfg.Port)
	}

	return cfg, nil
}

// ActivitiesEnabled reports whether both the broker and the cache are configured.
func (c Config) ActivitiesEnabled() bool {
	return c.RabbitMQURL != "" && c.RedisURL != ""
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// atlasURI builds an SRV connection string from separate credentials.
func atlasURI(user, pass, host string) string {
	if user == "" || host == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "mongodb+srv",
		User:     url.UserPassword(user, pass),
		Host:     host,
		Path:     "/",
		RawQuery: "retryWrites=true&w=majority&appName=Cluster0",
	}
	return u.String()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func atof(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func atob(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
