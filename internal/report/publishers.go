package report

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/rs/zerolog/log"

	"pulsewatch/internal/alert"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Publisher delivers a generated artifact somewhere.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, r *storage.Report, a *Artifact) error
}

// ChannelPublisher posts a digest embed to the report channel.
type ChannelPublisher struct {
	poster alert.ChannelPoster
}

// NewChannelPublisher creates a publisher posting through poster.
func NewChannelPublisher(poster alert.ChannelPoster) *ChannelPublisher {
	return &ChannelPublisher{poster: poster}
}

// Name implements Publisher.
func (p *ChannelPublisher) Name() string { return "channel" }

// Publish implements Publisher.
func (p *ChannelPublisher) Publish(ctx context.Context, r *storage.Report, a *Artifact) error {
	return p.poster.PostMessage(ctx, r.ChannelID, "", DigestEmbed(a))
}

// DigestEmbed renders the artifact as one embed with a field per monitor.
func DigestEmbed(a *Artifact) *alert.Embed {
	color := alert.ColorGreen
	switch {
	case a.Summary.Down > 0:
		color = alert.ColorRed
	case a.Summary.Other > 0:
		color = alert.ColorOrange
	}

	fields := make([]alert.EmbedField, 0, len(a.Entries))
	for _, e := range a.Entries {
		value := fmt.Sprintf("%s | %.2f%% (24h) | %.2f%% (7d)",
			strings.ToUpper(e.Monitor.Status), e.Stats.Uptime24h, e.Stats.Uptime7d)
		if e.Stats.AvgResponse24h != nil {
			value += fmt.Sprintf(" | %.0fms", *e.Stats.AvgResponse24h)
		}
		fields = append(fields, alert.EmbedField{Name: e.Monitor.Name, Value: value})
	}

	return &alert.Embed{
		Title: "📊 " + a.Name,
		Description: fmt.Sprintf("%d monitors: %d up, %d down, %d other. Average 24h uptime %.2f%%.",
			a.Summary.Total, a.Summary.Up, a.Summary.Down, a.Summary.Other, a.Summary.AvgUptime24h),
		Color:     color,
		Fields:    fields,
		Footer:    &alert.EmbedFooter{Text: fmt.Sprintf("Report #%d | %s", a.ReportID, alert.Username)},
		Timestamp: a.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

// EmailPublisher mails the digest through the Brevo transactional API to
// reports that carry an email recipient.
type EmailPublisher struct {
	cfg    config.EmailConfig
	client *brevo.APIClient
}

// NewEmailPublisher creates a Brevo client authenticated with cfg.APIKey.
func NewEmailPublisher(cfg config.EmailConfig) *EmailPublisher {
	bc := brevo.NewConfiguration()
	bc.AddDefaultHeader("api-key", cfg.APIKey)
	return &EmailPublisher{cfg: cfg, client: brevo.NewAPIClient(bc)}
}

// Name implements Publisher.
func (p *EmailPublisher) Name() string { return "email" }

// Publish implements Publisher. Reports without an email are skipped.
func (p *EmailPublisher) Publish(ctx context.Context, r *storage.Report, a *Artifact) error {
	if r.Email == "" {
		return nil
	}

	body := DigestText(a)
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  p.cfg.SenderName,
			Email: p.cfg.SenderEmail,
		},
		To:          []brevo.SendSmtpEmailTo{{Email: r.Email}},
		Subject:     fmt.Sprintf("%s: %d up, %d down", a.Name, a.Summary.Up, a.Summary.Down),
		HtmlContent: "<pre>" + html.EscapeString(body) + "</pre>",
		TextContent: body,
	}

	if _, _, err := p.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to send email via Brevo: %w", err)
	}
	log.Debug().Int64("report_id", r.ID).Str("artifact_id", a.ID).Msg("Report emailed")
	return nil
}

// DigestText renders the artifact as plain text.
func DigestText(a *Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nGenerated: %s\n\n", a.Name, a.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Monitors: %d (up %d, down %d, other %d)\nAverage uptime (24h): %.2f%%\n",
		a.Summary.Total, a.Summary.Up, a.Summary.Down, a.Summary.Other, a.Summary.AvgUptime24h)

	for _, e := range a.Entries {
		fmt.Fprintf(&b, "\n%s [%s] %s\n", e.Monitor.Name, strings.ToUpper(e.Monitor.Status), e.Monitor.Target)
		fmt.Fprintf(&b, "  uptime 24h %.2f%% | 7d %.2f%% | 30d %.2f%%\n",
			e.Stats.Uptime24h, e.Stats.Uptime7d, e.Stats.Uptime30d)
		for _, l := range e.RecentLogs {
			fmt.Fprintf(&b, "  %s %-5s %5dms", l.CheckedAt.UTC().Format("01-02 15:04"), l.Status, l.ResponseTimeMs)
			if l.Message != "" {
				fmt.Fprintf(&b, " %s", l.Message)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
