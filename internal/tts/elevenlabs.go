package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io"

// elevenLabsMaxChunk is the per-request character limit. The API accepts
// slightly more, but staying under it keeps long chapters from being
// rejected mid-book.
const elevenLabsMaxChunk = 9500

// ElevenLabsClient implements the Provider interface using ElevenLabs'
// synchronous REST API.
type ElevenLabsClient struct {
	apiKey     string
	modelID    string
	baseURL    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
// Stability and Similarity use -1 as the "provider default" sentinel,
// because 0.0 is a valid setting.
type ElevenLabsConfig struct {
	APIKey     string
	ModelID    string // e.g. "eleven_multilingual_v2"
	Stability  float64
	Similarity float64
	BaseURL    string // overridable for tests
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		modelID:    modelID,
		baseURL:    baseURL,
		stability:  stability,
		similarity: similarity,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts one markup chunk to MP3 audio with the given voice.
// Prosody is carried in the markup itself, so Params is unused here.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, markup, voiceID string, _ Params) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", c.baseURL, voiceID)

	req := ttsRequest{
		Text:    markup,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// elevenLabsVoice is one entry of the /v1/voices response.
type elevenLabsVoice struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
	Labels  struct {
		Gender string `json:"gender"`
	} `json:"labels"`
	VerifiedLanguages []struct {
		Language string `json:"language"`
	} `json:"verified_languages"`
}

// ListVoices returns the account's voices, filtered by language code prefix.
func (c *ElevenLabsClient) ListVoices(ctx context.Context, language string) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	var payload struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	var voices []Voice
	for _, v := range payload.Voices {
		lang := ""
		for _, vl := range v.VerifiedLanguages {
			if language == "" || strings.HasPrefix(vl.Language, language) {
				lang = vl.Language
				break
			}
		}
		if language != "" && lang == "" {
			continue
		}
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: lang,
			Gender:   v.Labels.Gender,
		})
	}
	return voices, nil
}

// MaxChunkSize returns the per-request character limit.
func (c *ElevenLabsClient) MaxChunkSize() int {
	return elevenLabsMaxChunk
}
