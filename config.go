package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the dashboard user's preferences, saved between runs.
type Config struct {
	Theme         string `json:"theme"`
	Language      string `json:"language"`
	SessionID     string `json:"session_id"`
	BackendURL    string `json:"backend_url,omitempty"`
	RevealDelayMS int    `json:"reveal_delay_ms,omitempty"`
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("MENUDASH_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	// Use ~/.config/menudash following XDG standard roughly
	return filepath.Join(home, ".config", "menudash"), nil
}

func LoadConfig() (Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return Config{}, err
	}

	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{Theme: "dark", Language: "en"}, nil // Default
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func SaveConfig(cfg Config) error {
	configDir, err := getConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

// Env is the deployment side of the configuration: where rows live and
// which model answers. It is read from the environment and an optional .env.
type Env struct {
	StoreDriver        string
	DatabaseURL        string
	SQLitePath         string
	AWSRegion          string
	DynamoMenuTable    string
	DynamoDetailsTable string

	LLMProvider         string
	GeminiAPIKey        string
	GeminiModel         string
	GeminiEmbedModel    string
	GeminiRPS           float64
	BedrockModelID      string
	BedrockEmbedModelID string
	EmbedDimension      int

	RestaurantName string
	BackendURL     string
	Port           string
	Debug          bool
}

func LoadEnv() Env {
	_ = godotenv.Load()

	env := Env{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:         strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		AWSRegion:          firstNonEmpty(os.Getenv("AWS_REGION"), "us-east-1"),
		DynamoMenuTable:    firstNonEmpty(os.Getenv("DYNAMO_MENU_TABLE"), menuSchema.Table),
		DynamoDetailsTable: firstNonEmpty(os.Getenv("DYNAMO_DETAILS_TABLE"), detailsSchema.Table),

		LLMProvider:         strings.ToLower(firstNonEmpty(os.Getenv("LLM_PROVIDER"), "gemini")),
		GeminiAPIKey:        firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		GeminiModel:         firstNonEmpty(os.Getenv("GEMINI_MODEL"), "gemini-2.5-flash"),
		GeminiEmbedModel:    firstNonEmpty(os.Getenv("GEMINI_EMBED_MODEL"), "text-embedding-004"),
		GeminiRPS:           parseFloat(os.Getenv("GEMINI_RPS"), 0),
		BedrockModelID:      firstNonEmpty(os.Getenv("BEDROCK_MODEL_ID"), "amazon.nova-lite-v1:0"),
		BedrockEmbedModelID: firstNonEmpty(os.Getenv("BEDROCK_EMBED_MODEL_ID"), "amazon.titan-embed-text-v2:0"),

		RestaurantName: firstNonEmpty(os.Getenv("RESTAURANT_NAME"), "our restaurant"),
		BackendURL:     strings.TrimSpace(os.Getenv("CHAT_BACKEND_URL")),
		Port:           firstNonEmpty(os.Getenv("PORT"), "8000"),
		Debug:          parseBool(os.Getenv("DEBUG")),
	}

	defaultDim := 768
	if env.LLMProvider == "bedrock" {
		defaultDim = 1024
	}
	env.EmbedDimension = int(parseFloat(os.Getenv("EMBED_DIMENSION"), float64(defaultDim)))

	env.StoreDriver = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if env.StoreDriver == "" {
		switch {
		case env.DatabaseURL != "":
			env.StoreDriver = "postgres"
		case env.SQLitePath != "":
			env.StoreDriver = "sqlite"
		default:
			env.StoreDriver = "memory"
		}
	}
	return env
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseFloat(raw string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
