package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string
	SentryDSN     string

	// TTS providers
	ElevenLabsAPIKey string
	AzureSpeechKey   string
	AzureRegion      string

	// Mastering
	FFmpegPath string
	TargetLUFS float64
	TruePeakDB float64
	DeEss      bool

	// Pipeline
	WorkDir      string
	Concurrency  int
	RetryBackoff time.Duration

	// Blob storage
	BlobDir    string
	BlobSecret string
	BlobTTL    time.Duration

	// Notifications
	DiscordWebhookURL string
}

func LoadConfigFromEnv() Config {
	retryBackoff, err := time.ParseDuration(getenv("RETRY_BACKOFF", "15s"))
	if err != nil {
		retryBackoff = 15 * time.Second
	}
	blobTTL, err := time.ParseDuration(getenv("BLOB_URL_TTL", "24h"))
	if err != nil {
		blobTTL = 24 * time.Hour
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		SentryDSN:     getenv("SENTRY_DSN", ""),

		// TTS providers
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		AzureSpeechKey:   getenv("AZURE_SPEECH_KEY", ""),
		AzureRegion:      getenv("AZURE_SPEECH_REGION", ""),

		// Mastering
		FFmpegPath: getenv("FFMPEG_PATH", "ffmpeg"),
		TargetLUFS: getenvFloatClamped("MASTER_TARGET_LUFS", -20.0, -24.0, -16.0),
		TruePeakDB: getenvFloatClamped("MASTER_TRUE_PEAK_DB", -3.0, -6.0, -1.0),
		DeEss:      getenv("MASTER_DEESS", "on") != "off",

		// Pipeline
		WorkDir:      getenv("WORK_DIR", os.TempDir()),
		Concurrency:  getenvIntClamped("CHAPTER_CONCURRENCY", 3, 1, 4),
		RetryBackoff: retryBackoff,

		// Blob storage
		BlobDir:    getenv("BLOB_DIR", "./blobs"),
		BlobSecret: os.Getenv("BLOB_SECRET"), // Required - no fallback for security
		BlobTTL:    blobTTL,

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an int from the environment, clamping it into
// [min, max]. Invalid or missing values fall back to def.
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped reads a float from the environment, clamping it into
// [min, max]. Invalid or missing values fall back to def.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
