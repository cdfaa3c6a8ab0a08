// Package alert evaluates alert rules and delivers notifications to
// channel and webhook sinks.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Embed colors.
const (
	ColorRed    = 16711680 // #FF0000 - down
	ColorGreen  = 65280    // #00FF00 - up
	ColorOrange = 16753920 // #FFA500 - error or warning

	Username = "Pulsewatch"
)

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small print under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Embed is a structured message payload in the Discord embed format.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

// ChannelPoster posts a message to a chat channel.
type ChannelPoster interface {
	PostMessage(ctx context.Context, channelID, text string, embed *Embed) error
}

// Notification is what a firing rule tells its sink.
type Notification struct {
	Monitor             *storage.Monitor
	Status              string
	Message             string
	ResponseTimeMs      int64
	ConsecutiveFailures int
	CheckedAt           time.Time
}

// StatusColor maps a monitor status onto an embed color.
func StatusColor(status string) int {
	switch status {
	case storage.StatusUp:
		return ColorGreen
	case storage.StatusDown:
		return ColorRed
	default:
		return ColorOrange
	}
}

// BuildEmbed renders the notification embed.
func BuildEmbed(n Notification) *Embed {
	m := n.Monitor
	return &Embed{
		Title:       fmt.Sprintf("🚨 %s is %s", m.Name, strings.ToUpper(n.Status)),
		Description: n.Message,
		Color:       StatusColor(n.Status),
		Fields: []EmbedField{
			{Name: "Monitor", Value: m.Name, Inline: true},
			{Name: "Type", Value: m.Type, Inline: true},
			{Name: "Target", Value: m.Target, Inline: false},
			{Name: "Consecutive failures", Value: strconv.Itoa(n.ConsecutiveFailures), Inline: true},
			{Name: "Response time", Value: fmt.Sprintf("%dms", n.ResponseTimeMs), Inline: true},
		},
		Footer:    &EmbedFooter{Text: fmt.Sprintf("Monitor #%d | Pulsewatch", m.ID)},
		Timestamp: n.CheckedAt.UTC().Format(time.RFC3339),
	}
}

// mentionText formats a rule mention for a channel message.
func mentionText(mention string) string {
	switch mention {
	case "":
		return ""
	case "everyone", "here":
		return "@" + mention
	default:
		return "<@&" + mention + ">"
	}
}

// DiscordClient posts channel messages through the Discord REST API with a bot token.
type DiscordClient struct {
	apiBase string
	token   string
	client  *http.Client
}

// NewDiscordClient creates a REST client from the Discord configuration.
func NewDiscordClient(cfg config.DiscordConfig) *DiscordClient {
	return &DiscordClient{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type discordMessage struct {
	Content         string          `json:"content,omitempty"`
	Embeds          []Embed         `json:"embeds,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// PostMessage implements ChannelPoster.
func (c *DiscordClient) PostMessage(ctx context.Context, channelID, text string, embed *Embed) error {
	msg := discordMessage{
		Content:         text,
		AllowedMentions: allowedMentions{Parse: []string{"roles", "everyone"}},
	}
	if embed != nil {
		msg.Embeds = []Embed{*embed}
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.apiBase, channelID)
	return postJSON(ctx, c.client, url, msg, func(req *http.Request) {
		req.Header.Set("Authorization", "Bot "+c.token)
	})
}

// WebhookPayload is the JSON body POSTed to webhook sinks. The embeds make
// it directly consumable by Discord-compatible webhooks.
type WebhookPayload struct {
	Username            string         `json:"username"`
	Monitor             WebhookMonitor `json:"monitor"`
	Status              string         `json:"status"`
	Message             string         `json:"message"`
	ResponseTimeMs      int64          `json:"response_time_ms"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	CheckedAt           time.Time      `json:"checked_at"`
	Embeds              []Embed        `json:"embeds"`
}

// WebhookMonitor identifies the monitor inside a webhook payload.
type WebhookMonitor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// WebhookSender POSTs notifications to webhook URLs.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates a webhook sender with the given request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

// Send delivers n to url.
func (w *WebhookSender) Send(ctx context.Context, url string, n Notification) error {
	payload := WebhookPayload{
		Username: Username,
		Monitor: WebhookMonitor{
			ID:     n.Monitor.ID,
			Name:   n.Monitor.Name,
			Type:   n.Monitor.Type,
			Target: n.Monitor.Target,
		},
		Status:              n.Status,
		Message:             n.Message,
		ResponseTimeMs:      n.ResponseTimeMs,
		ConsecutiveFailures: n.ConsecutiveFailures,
		CheckedAt:           n.CheckedAt.UTC(),
		Embeds:              []Embed{*BuildEmbed(n)},
	}
	return postJSON(ctx, w.client, url, payload, nil)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, decorate func(*http.Request)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", Username)
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sink returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
