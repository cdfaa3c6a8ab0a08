package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/checks"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
)

// Evaluator decides whether the rules of a failing monitor fire and
// dispatches the ones that do. It owns AlertRule.LastTriggered.
type Evaluator struct {
	repos   *storage.Repositories
	stats   *stats.Aggregator
	poster  ChannelPoster
	webhook *WebhookSender

	// Now is the clock used for cooldowns.
	Now func() time.Time
}

// NewEvaluator creates an evaluator. A nil poster makes channel rules fail
// their dispatch, which is logged like any other sink failure.
func NewEvaluator(repos *storage.Repositories, aggregator *stats.Aggregator, poster ChannelPoster, webhook *WebhookSender) *Evaluator {
	return &Evaluator{
		repos:   repos,
		stats:   aggregator,
		poster:  poster,
		webhook: webhook,
		Now:     time.Now,
	}
}

// Evaluate runs every active rule of monitor against its latest history.
//
// A rule fires when its cooldown has elapsed and its N most recent checks
// are all down. A firing rule has LastTriggered set to now whether or not
// the sink accepted the notification; failures are logged, never retried.
func (e *Evaluator) Evaluate(ctx context.Context, monitor *storage.Monitor, result *checks.Result) {
	rules, err := e.repos.AlertRules.Where(ctx, "monitor_id = ? AND is_active = ?", monitor.ID, true)
	if err != nil {
		log.Error().Int64("monitor_id", monitor.ID).Err(err).Msg("Failed to load alert rules")
		return
	}

	for i := range rules {
		rule := &rules[i]
		now := e.Now().UTC()

		if rule.LastTriggered != nil && now.Sub(*rule.LastTriggered) < rule.Cooldown() {
			log.Debug().Int64("rule_id", rule.ID).Time("last_triggered", *rule.LastTriggered).Msg("Alert rule cooling down")
			continue
		}

		fire, err := e.thresholdReached(ctx, monitor.ID, rule.ConsecutiveFailures)
		if err != nil {
			log.Error().Int64("rule_id", rule.ID).Err(err).Msg("Failed to read recent checks")
			continue
		}
		if !fire {
			continue
		}

		n := Notification{
			Monitor:             monitor,
			Status:              result.Status,
			Message:             result.Message,
			ResponseTimeMs:      result.ResponseTimeMs,
			ConsecutiveFailures: rule.ConsecutiveFailures,
			CheckedAt:           result.CheckedAt,
		}
		dispatchErr := e.dispatch(ctx, rule, n)
		e.markTriggered(ctx, rule, now, dispatchErr)
	}
}

// thresholdReached reports whether the n most recent checks are all down.
func (e *Evaluator) thresholdReached(ctx context.Context, monitorID int64, n int) (bool, error) {
	statuses, err := e.stats.Recent(ctx, monitorID, n)
	if err != nil {
		return false, err
	}
	if len(statuses) < n {
		return false, nil
	}
	for _, s := range statuses {
		if s != storage.StatusDown {
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) dispatch(ctx context.Context, rule *storage.AlertRule, n Notification) error {
	switch rule.SinkType {
	case storage.SinkChannel:
		if e.poster == nil {
			return errors.New("no channel poster configured")
		}
		text := fmt.Sprintf("**%s** is %s: %s", n.Monitor.Name, strings.ToUpper(n.Status), n.Message)
		if mention := mentionText(rule.Mention); mention != "" {
			text = mention + " " + text
		}
		return e.poster.PostMessage(ctx, rule.ChannelID, text, BuildEmbed(n))
	case storage.SinkWebhook:
		if e.webhook == nil {
			return errors.New("no webhook sender configured")
		}
		return e.webhook.Send(ctx, rule.WebhookURL, n)
	default:
		return fmt.Errorf("unknown sink type %q", rule.SinkType)
	}
}

// markTriggered stamps LastTriggered and records the firing.
func (e *Evaluator) markTriggered(ctx context.Context, rule *storage.AlertRule, now time.Time, dispatchErr error) {
	event := &storage.AlertEvent{
		RuleID:    rule.ID,
		MonitorID: rule.MonitorID,
		Delivered: dispatchErr == nil,
		SentAt:    now,
	}

	if dispatchErr != nil {
		event.Error = dispatchErr.Error()
		log.Warn().Int64("rule_id", rule.ID).Int64("monitor_id", rule.MonitorID).Str("sink", rule.SinkType).
			Err(dispatchErr).Msg("Alert dispatch failed")
	} else {
		log.Info().Int64("rule_id", rule.ID).Int64("monitor_id", rule.MonitorID).Str("sink", rule.SinkType).
			Msg("Alert sent")
	}

	if _, err := e.repos.AlertRules.UpdateColumns(ctx, rule.ID, map[string]any{"last_triggered": now}); err != nil {
		log.Error().Int64("rule_id", rule.ID).Err(err).Msg("Failed to update last_triggered")
	}
	rule.LastTriggered = &now

	if _, err := e.repos.AlertEvents.Create(ctx, event); err != nil {
		log.Error().Int64("rule_id", rule.ID).Err(err).Msg("Failed to record alert event")
	}
}
