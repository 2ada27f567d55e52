package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type StoreBackend string

const (
	BackendMemory StoreBackend = "memory"
	BackendRedis  StoreBackend = "redis"
	BackendHTTP   StoreBackend = "http"
)

// AppConfig configures a player client.
type AppConfig struct {
	WebID      string
	StorageURL string

	Backend  StoreBackend
	RedisURL string
	PodToken string
	PodWSURL string

	PollInterval   time.Duration
	SignalInterval time.Duration
	ICEServers     []string

	DatabaseURL string
	MessagesDir string
}

// PodServerConfig configures the development pod.
type PodServerConfig struct {
	BaseURL      string
	ListenAddr   string
	WSListenAddr string
	Backend      StoreBackend
	RedisURL     string
	Users        []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Backend:        BackendHTTP,
		PollInterval:   5 * time.Second,
		SignalInterval: time.Second,
		ICEServers:     []string{"stun:stun.l.google.com:19302"},
	}

	cfg.WebID = env("WEBID")
	cfg.StorageURL = env("STORAGE_URL")
	cfg.RedisURL = env("REDIS_URL")
	cfg.PodToken = env("POD_TOKEN")
	cfg.PodWSURL = env("POD_WS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.MessagesDir = env("MESSAGES_DIR")

	backend, err := parseBackend(env("STORE_BACKEND"), cfg.Backend)
	if err != nil {
		return nil, err
	}
	cfg.Backend = backend

	if cfg.PollInterval, err = duration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.SignalInterval, err = duration("SIGNAL_INTERVAL", cfg.SignalInterval); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("ICE_SERVERS"); ok {
		cfg.ICEServers = splitList(v)
	}

	if cfg.WebID == "" {
		return nil, errors.New("WEBID is required")
	}
	if cfg.StorageURL == "" {
		return nil, errors.New("STORAGE_URL is required")
	}
	if strings.Contains(cfg.StorageURL, "#") {
		return nil, errors.New("STORAGE_URL must be a document url without fragment")
	}
	if cfg.Backend == BackendRedis && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required for the redis backend")
	}
	return cfg, nil
}

func LoadPodServer() (*PodServerConfig, error) {
	cfg := &PodServerConfig{
		BaseURL:      "http://localhost:8080",
		ListenAddr:   ":8080",
		WSListenAddr: ":8081",
		Backend:      BackendMemory,
	}
	if v := env("POD_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if v := env("POD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("POD_WS_LISTEN_ADDR"); v != "" {
		cfg.WSListenAddr = v
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.Users = splitList(env("POD_USERS"))

	backend, err := parseBackend(env("STORE_BACKEND"), cfg.Backend)
	if err != nil {
		return nil, err
	}
	if backend == BackendHTTP {
		return nil, errors.New("the pod server cannot use the http backend")
	}
	cfg.Backend = backend
	if cfg.Backend == BackendRedis && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required for the redis backend")
	}
	return cfg, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func parseBackend(v string, def StoreBackend) (StoreBackend, error) {
	switch b := StoreBackend(strings.ToLower(v)); b {
	case "":
		return def, nil
	case BackendMemory, BackendRedis, BackendHTTP:
		return b, nil
	default:
		return "", fmt.Errorf("STORE_BACKEND %q is not one of memory, redis, http", v)
	}
}

// duration accepts Go durations ("500ms") and plain seconds ("5").
func duration(key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 && fmt.Sprint(secs) == v {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("%s: invalid duration %q", key, v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
