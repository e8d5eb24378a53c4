package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	OllamaBaseURL string
	OllamaModel   string
	OllamaTimeout int // seconds

	InvoiceDir  string
	ContractDir string
	CracDir     string

	Host string
	Port int

	ShutdownTimeout       int // seconds
	HeartbeatInterval     int // seconds, WebSocket keepalive
	ETAWindowSize         int
	DefaultSecondsPerPage float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	invoiceDir := os.Getenv("INVOICE_DIR")
	contractDir := os.Getenv("CONTRACT_DIR")
	cracDir := os.Getenv("CRAC_DIR")
	if invoiceDir == "" && contractDir == "" && cracDir == "" {
		fmt.Println("Warning: no document folders configured (INVOICE_DIR, CONTRACT_DIR, CRAC_DIR), batch creation will find no files")
	}

	return &Config{
		DatabaseURL:           dbURL,
		OllamaBaseURL:         getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:           getEnv("OLLAMA_MODEL", "mistral-small3.1:24b-2503-fp16"),
		OllamaTimeout:         getEnvInt("OLLAMA_TIMEOUT", 300),
		InvoiceDir:            invoiceDir,
		ContractDir:           contractDir,
		CracDir:               cracDir,
		Host:                  getEnv("HOST", "0.0.0.0"),
		Port:                  getEnvInt("PORT", 8000),
		ShutdownTimeout:       getEnvInt("SHUTDOWN_TIMEOUT", 30),
		HeartbeatInterval:     getEnvInt("HEARTBEAT_INTERVAL", 30),
		ETAWindowSize:         getEnvInt("ETA_WINDOW_SIZE", 20),
		DefaultSecondsPerPage: getEnvFloat("DEFAULT_SECONDS_PER_PAGE", 30),
	}, nil
}

// FolderFor maps a document type to its configured input folder.
func (c *Config) FolderFor(docType string) string {
	switch docType {
	case "invoice":
		return c.InvoiceDir
	case "contract":
		return c.ContractDir
	case "crac":
		return c.CracDir
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %g\n", key, v, fallback)
		return fallback
	}
	return f
}
