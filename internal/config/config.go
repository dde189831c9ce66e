package config

import (
	"log"
	"os"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode

	GCPProjectID string
	WebAPIKey    string

	StorageBackend string // "memory" or "firestore"
	AuthBackend    string // "memory" or "firebase"

	// FederatedProvider is the one federated provider this build supports,
	// e.g. "apple.com".
	FederatedProvider string

	// AppVersion is stamped into newly created profiles.
	AppVersion string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads all env vars and builds the config
func Load() *Config {
	modeStr := getEnv("AVACHAT_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	defaultBackend := "memory"
	if mode == ModeGCP {
		defaultBackend = "firestore"
	}
	defaultAuth := "memory"
	if mode == ModeGCP {
		defaultAuth = "firebase"
	}

	cfg := &Config{
		Mode: mode,

		GCPProjectID: getEnv("AVACHAT_GCP_PROJECT", ""),
		WebAPIKey:    getEnv("AVACHAT_WEB_API_KEY", ""),

		StorageBackend: getEnv("AVACHAT_STORAGE_BACKEND", defaultBackend),
		AuthBackend:    getEnv("AVACHAT_AUTH_BACKEND", defaultAuth),

		FederatedProvider: getEnv("AVACHAT_FEDERATED_PROVIDER", "apple.com"),
		AppVersion:        getEnv("AVACHAT_APP_VERSION", "dev"),
	}

	// Minimal validation in GCP mode
	if cfg.Mode == ModeGCP && cfg.GCPProjectID == "" {
		log.Fatal("AVACHAT_GCP_PROJECT must be set in gcp mode")
	}
	if cfg.AuthBackend == "firebase" && cfg.WebAPIKey == "" {
		log.Fatal("AVACHAT_WEB_API_KEY must be set for the firebase auth backend")
	}

	return cfg
}
