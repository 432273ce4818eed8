package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// NotifyProjectCompleted sends a notification when an audiobook finishes
// production. failedChapters lists any chapters that did not make it.
func (d *Discord) NotifyProjectCompleted(ctx context.Context, title string, chapters int, failedChapters []string) {
	embed := discordEmbed{
		Title:       "Audiolibro terminado",
		Description: fmt.Sprintf("La producción de **%s** ha terminado (%d capítulos).", title, chapters),
		Color:       0x00FF00, // Green
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if len(failedChapters) > 0 {
		embed.Color = 0xFFA500 // Orange
		embed.Fields = []embedField{
			{Name: "Capítulos fallidos", Value: strings.Join(failedChapters, ", ")},
		}
	}
	d.send(ctx, discordMessage{Embeds: []discordEmbed{embed}})
}

// NotifyProjectFailed sends a notification when a project fails outright.
func (d *Discord) NotifyProjectFailed(ctx context.Context, title, reason string) {
	msg := discordMessage{
		Content: "@here", // Ping everyone
		Embeds: []discordEmbed{{
			Title:       "Producción fallida",
			Description: fmt.Sprintf("La producción de **%s** ha fallado.", title),
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Motivo", Value: reason},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}
