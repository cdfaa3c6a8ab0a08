package alert

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/storage"
)

// Rule defaults applied when a create request leaves them out.
const (
	DefaultConsecutiveFailures = 3
	DefaultCooldownSeconds     = 300
)

var snowflake = regexp.MustCompile(`^[0-9]{17,20}$`)

// RuleInput is a create request for an alert rule.
type RuleInput struct {
	SinkType            string `json:"sink_type"`
	ChannelID           string `json:"channel_id"`
	WebhookURL          string `json:"webhook_url"`
	Mention             string `json:"mention"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CooldownSeconds     int    `json:"cooldown_seconds"`
}

// RulePatch is a partial update of an alert rule. Nil fields are kept.
type RulePatch struct {
	SinkType            *string `json:"sink_type"`
	ChannelID           *string `json:"channel_id"`
	WebhookURL          *string `json:"webhook_url"`
	Mention             *string `json:"mention"`
	ConsecutiveFailures *int    `json:"consecutive_failures"`
	CooldownSeconds     *int    `json:"cooldown_seconds"`
	IsActive            *bool   `json:"is_active"`
}

// Service manages alert rules on behalf of monitor owners.
type Service struct {
	repos *storage.Repositories
}

// NewService creates an alert rule service.
func NewService(repos *storage.Repositories) *Service {
	return &Service{repos: repos}
}

// ownedMonitor loads a monitor and checks that ownerID owns it.
func (s *Service) ownedMonitor(ctx context.Context, ownerID string, monitorID int64) (*storage.Monitor, error) {
	m, err := s.repos.Monitors.GetByID(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, apperr.ErrForbidden
	}
	return m, nil
}

// Create attaches a new rule to a monitor owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, monitorID int64, in RuleInput) (*storage.AlertRule, error) {
	if _, err := s.ownedMonitor(ctx, ownerID, monitorID); err != nil {
		return nil, err
	}

	rule := &storage.AlertRule{
		MonitorID:           monitorID,
		SinkType:            strings.ToLower(strings.TrimSpace(in.SinkType)),
		ChannelID:           strings.TrimSpace(in.ChannelID),
		WebhookURL:          strings.TrimSpace(in.WebhookURL),
		Mention:             normalizeMention(in.Mention),
		ConsecutiveFailures: in.ConsecutiveFailures,
		CooldownSeconds:     in.CooldownSeconds,
		IsActive:            true,
	}
	if rule.ConsecutiveFailures == 0 {
		rule.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	if rule.CooldownSeconds == 0 {
		rule.CooldownSeconds = DefaultCooldownSeconds
	}

	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if _, err := s.repos.AlertRules.Create(ctx, rule); err != nil {
		return nil, err
	}

	log.Info().Int64("rule_id", rule.ID).Int64("monitor_id", monitorID).Str("sink", rule.SinkType).Msg("Alert rule created")
	return rule, nil
}

// List returns the rules of a monitor owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID string, monitorID int64) ([]storage.AlertRule, error) {
	if _, err := s.ownedMonitor(ctx, ownerID, monitorID); err != nil {
		return nil, err
	}
	return s.repos.AlertRules.Where(ctx, "monitor_id = ?", monitorID)
}

// Get returns one rule whose monitor is owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID string, ruleID int64) (*storage.AlertRule, error) {
	rule, err := s.repos.AlertRules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedMonitor(ctx, ownerID, rule.MonitorID); err != nil {
		return nil, err
	}
	return rule, nil
}

// Update applies patch to a rule. The whole resulting rule is validated
// before anything is written; LastTriggered is never touched.
func (s *Service) Update(ctx context.Context, ownerID string, ruleID int64, patch RulePatch) (*storage.AlertRule, error) {
	rule, err := s.Get(ctx, ownerID, ruleID)
	if err != nil {
		return nil, err
	}

	if patch.SinkType != nil {
		rule.SinkType = strings.ToLower(strings.TrimSpace(*patch.SinkType))
	}
	if patch.ChannelID != nil {
		rule.ChannelID = strings.TrimSpace(*patch.ChannelID)
	}
	if patch.WebhookURL != nil {
		rule.WebhookURL = strings.TrimSpace(*patch.WebhookURL)
	}
	if patch.Mention != nil {
		rule.Mention = normalizeMention(*patch.Mention)
	}
	if patch.ConsecutiveFailures != nil {
		rule.ConsecutiveFailures = *patch.ConsecutiveFailures
	}
	if patch.CooldownSeconds != nil {
		rule.CooldownSeconds = *patch.CooldownSeconds
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}

	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if _, err := s.repos.AlertRules.UpdateColumns(ctx, rule.ID, map[string]any{
		"sink_type":            rule.SinkType,
		"channel_id":           rule.ChannelID,
		"webhook_url":          rule.WebhookURL,
		"mention":              rule.Mention,
		"consecutive_failures": rule.ConsecutiveFailures,
		"cooldown_seconds":     rule.CooldownSeconds,
		"is_active":            rule.IsActive,
		"updated_at":           time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	log.Info().Int64("rule_id", rule.ID).Msg("Alert rule updated")
	return s.repos.AlertRules.GetByID(ctx, rule.ID)
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, ownerID string, ruleID int64) error {
	if _, err := s.Get(ctx, ownerID, ruleID); err != nil {
		return err
	}
	if err := s.repos.AlertRules.Delete(ctx, ruleID); err != nil {
		return err
	}
	log.Info().Int64("rule_id", ruleID).Msg("Alert rule deleted")
	return nil
}

// DeleteForMonitor removes every rule of a monitor and returns how many went away.
func (s *Service) DeleteForMonitor(ctx context.Context, monitorID int64) (int64, error) {
	return s.repos.AlertRules.DeleteWhere(ctx, "monitor_id = ?", monitorID)
}

func normalizeMention(m string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(m)), "@")
}

// validateRule checks the sink addresses on top of the storage invariants.
func validateRule(r *storage.AlertRule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	switch r.SinkType {
	case storage.SinkChannel:
		if !snowflake.MatchString(r.ChannelID) {
			return apperr.Invalidf("channel_id must be a numeric channel id")
		}
	case storage.SinkWebhook:
		u, err := url.Parse(r.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.Invalidf("webhook_url must be an http or https URL")
		}
	}

	if r.Mention != "" && r.Mention != "everyone" && r.Mention != "here" && !snowflake.MatchString(r.Mention) {
		return apperr.Invalidf("mention must be everyone, here or a role id")
	}
	return nil
}
