// Package costs provides cost estimation for TTS provider usage.
package costs

import (
	"os"
	"strconv"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

// Pricing constants (in cents per unit for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)

	// AzureCentsPerThousandChars is the cost per 1K characters for Azure neural batch synthesis.
	// Default: $16/1M chars = 1.6 cents/1K chars
	AzureCentsPerThousandChars = getEnvFloat("COST_AZURE_CENTS_PER_1K_CHARS", 1.6)
)

// Synthesis returns the estimated provider cost in cents for synthesizing
// the given number of markup characters. Unknown providers cost zero.
func Synthesis(provider string, characters int) int {
	var centsPerThousand float64
	switch provider {
	case tts.ProviderElevenLabs:
		centsPerThousand = ElevenLabsCentsPerThousandChars
	case tts.ProviderAzure:
		centsPerThousand = AzureCentsPerThousandChars
	default:
		return 0
	}
	return roundToInt((float64(characters) / 1000.0) * centsPerThousand)
}

// ProjectEstimate sums the per-chapter estimates for a whole manuscript.
func ProjectEstimate(provider string, chapterCharacters []int) int {
	total := 0
	for _, chars := range chapterCharacters {
		total += Synthesis(provider, chars)
	}
	return total
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
