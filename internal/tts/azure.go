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

	"github.com/google/uuid"
)

// azureMaxChunk is conservative: the batch API takes much larger inputs,
// but long single requests are where its jobs get stuck, and smaller
// chunks keep retry cost per failure low.
const azureMaxChunk = 2800

const azureAPIVersion = "2024-04-01"

// AzureClient implements the Provider interface using the Azure Speech
// batch synthesis API. Synthesis runs as an asynchronous job on Azure's
// side, so the client also implements TaskStarter and TaskPoller; the task
// handle survives process restarts.
type AzureClient struct {
	apiKey       string
	region       string
	baseURL      string
	voicesURL    string
	outputFormat string
	pollInterval time.Duration
	httpClient   *http.Client
}

// AzureConfig holds configuration for the Azure Speech client.
type AzureConfig struct {
	APIKey       string
	Region       string        // e.g. "westeurope"
	BaseURL      string        // overridable for tests
	PollInterval time.Duration // 0 means 5s
}

// NewAzureClient creates a new Azure Speech batch synthesis client.
func NewAzureClient(cfg AzureConfig) *AzureClient {
	baseURL := cfg.BaseURL
	voicesURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.api.cognitive.microsoft.com", cfg.Region)
		voicesURL = fmt.Sprintf("https://%s.tts.speech.microsoft.com", cfg.Region)
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	return &AzureClient{
		apiKey:       cfg.APIKey,
		region:       cfg.Region,
		baseURL:      baseURL,
		voicesURL:    voicesURL,
		outputFormat: "audio-24khz-96kbitrate-mono-mp3",
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type azureSynthesisRequest struct {
	InputKind  string          `json:"inputKind"`
	Inputs     []azureInput    `json:"inputs"`
	Properties azureProperties `json:"properties"`
}

type azureInput struct {
	Content string `json:"content"`
}

type azureProperties struct {
	OutputFormat      string `json:"outputFormat"`
	ConcatenateResult bool   `json:"concatenateResult"`
}

type azureSynthesisStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // NotStarted | Running | Succeeded | Failed
	Outputs struct {
		Result string `json:"result"`
	} `json:"outputs"`
	Properties struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

// StartTask submits a batch synthesis job covering every chunk of a chapter
// and returns its durable handle. Each fragment is wrapped in the
// speak/voice envelope Azure requires; concatenateResult makes the service
// deliver a single audio file in input order.
func (c *AzureClient) StartTask(ctx context.Context, chunks []string, voiceID string, p Params) (string, error) {
	id := uuid.NewString()

	inputs := make([]azureInput, 0, len(chunks))
	for _, chunk := range chunks {
		inputs = append(inputs, azureInput{Content: azureEnvelope(chunk, voiceID, p)})
	}
	req := azureSynthesisRequest{
		InputKind: "SSML",
		Inputs:    inputs,
		Properties: azureProperties{
			OutputFormat:      c.outputFormat,
			ConcatenateResult: true,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/texttospeech/batchsyntheses/%s?api-version=%s", c.baseURL, id, azureAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Azure Speech API error: %s - %s", resp.Status, string(respBody))
	}

	return id, nil
}

// TaskStatus polls a batch synthesis job by its handle.
func (c *AzureClient) TaskStatus(ctx context.Context, handle string) (TaskResult, error) {
	url := fmt.Sprintf("%s/texttospeech/batchsyntheses/%s?api-version=%s", c.baseURL, handle, azureAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return TaskResult{}, fmt.Errorf("Azure Speech API error: %s - %s", resp.Status, string(respBody))
	}

	var status azureSynthesisStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return TaskResult{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch status.Status {
	case "Succeeded":
		return TaskResult{State: TaskSucceeded, AudioURL: status.Outputs.Result}, nil
	case "Failed":
		return TaskResult{State: TaskFailed, Message: status.Properties.Error.Message}, nil
	default:
		return TaskResult{State: TaskRunning}, nil
	}
}

// Synthesize submits a batch job and blocks polling it until the audio is
// ready, the job fails, or ctx expires.
func (c *AzureClient) Synthesize(ctx context.Context, markup, voiceID string, p Params) ([]byte, error) {
	handle, err := c.StartTask(ctx, []string{markup}, voiceID, p)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, err := c.TaskStatus(ctx, handle)
		if err != nil {
			// Transient poll failures leave the task running; the next
			// tick tries again.
			continue
		}
		switch result.State {
		case TaskSucceeded:
			return c.DownloadResult(ctx, result.AudioURL)
		case TaskFailed:
			return nil, fmt.Errorf("Azure synthesis task %s failed: %s", handle, result.Message)
		}
	}
}

// DownloadResult fetches the finished audio from the result URL Azure
// reports, following redirects to blob storage.
func (c *AzureClient) DownloadResult(ctx context.Context, audioURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result download error: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type azureVoice struct {
	ShortName string `json:"ShortName"`
	LocalName string `json:"LocalName"`
	Locale    string `json:"Locale"`
	Gender    string `json:"Gender"`
}

// ListVoices returns the region's voices, filtered by locale prefix.
func (c *AzureClient) ListVoices(ctx context.Context, language string) ([]Voice, error) {
	url := c.voicesURL + "/cognitiveservices/voices/list"
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Azure Speech API error: %s - %s", resp.Status, string(respBody))
	}

	var payload []azureVoice
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	var voices []Voice
	for _, v := range payload {
		if language != "" && !strings.HasPrefix(v.Locale, language) {
			continue
		}
		voices = append(voices, Voice{
			ID:       v.ShortName,
			Name:     v.LocalName,
			Language: v.Locale,
			Gender:   v.Gender,
		})
	}
	return voices, nil
}

// MaxChunkSize returns the per-request character limit.
func (c *AzureClient) MaxChunkSize() int {
	return azureMaxChunk
}

// azureEnvelope wraps a prosody fragment in the speak/voice element the
// batch API requires. Rate and pitch overrides become a nested prosody
// element so they compose with the fragment's own markup.
func azureEnvelope(markup, voiceID string, p Params) string {
	inner := markup
	if p.Rate != 0 || p.Pitch != 0 {
		rate := p.Rate
		if rate == 0 {
			rate = 100
		}
		inner = fmt.Sprintf(`<prosody rate="%d%%" pitch="%+d%%">%s</prosody>`, rate, p.Pitch, markup)
	}
	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="es-ES"><voice name="%s">%s</voice></speak>`,
		voiceID, inner)
}
