package enrichment

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/payloads"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
)

const slowDeliveryThreshold = 48 * time.Hour

var tagSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// Result is the insight derived from one event.
type Result struct {
	Tags             []string
	Confidence       float64
	Reasoning        string
	SuggestedActions []string
}

// Enricher turns a decoded event into a Result.
type Enricher interface {
	Enrich(ctx context.Context, event *registry.ResolvedEvent) (Result, error)
}

// Heuristic is a deterministic rule-based Enricher: the same event always
// yields the same Result.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Enrich fails with a non-retryable error for payloads it does not know.
func (h *Heuristic) Enrich(_ context.Context, event *registry.ResolvedEvent) (Result, error) {
	if event == nil {
		return Result{}, registry.NewNonRetryableError(fmt.Errorf("event is required"))
	}

	switch payload := event.Payload.(type) {
	case *payloads.OrderCreatedEvent:
		return enrichOrderCreated(payload), nil
	case *payloads.OrderDecidedEvent:
		return enrichOrderDecided(payload), nil
	case *payloads.OrderDeliveredEvent:
		return enrichOrderDelivered(payload), nil
	case *payloads.TelemetryReportedEvent:
		return enrichTelemetry(payload), nil
	default:
		return Result{}, registry.NewNonRetryableError(fmt.Errorf("no enrichment rule for %s", event.Descriptor.EventType))
	}
}

func enrichOrderCreated(p *payloads.OrderCreatedEvent) Result {
	return Result{
		Tags:             []string{"order:new"},
		Confidence:       0.5,
		Reasoning:        fmt.Sprintf("order %s is waiting for an expert decision", p.Reference),
		SuggestedActions: []string{"await_decision"},
	}
}

func enrichOrderDecided(p *payloads.OrderDecidedEvent) Result {
	tags := []string{"decision:" + string(p.Decision)}
	confidence := 0.6
	actions := []string{}

	reason := strings.TrimSpace(p.Reason)
	if reason != "" {
		tags = append(tags, "reason:"+tagValue(reason))
		confidence += 0.2
	} else {
		tags = append(tags, "reason:missing")
		actions = append(actions, "request_decision_reason")
	}
	if strings.TrimSpace(p.DecidedBy) == "" {
		tags = append(tags, "decided_by:unknown")
		confidence -= 0.1
	}

	switch p.Decision {
	case enums.OrderDecisionReject:
		tags = append(tags, "expert_override")
		actions = append(actions, "review_heuristic_suggestion")
	case enums.OrderDecisionAccept:
		confidence += 0.1
	}

	reasoning := fmt.Sprintf("order %s was %s", p.Reference, p.Status)
	if reason != "" {
		reasoning += fmt.Sprintf(" because %q", reason)
	}

	return Result{
		Tags:             tags,
		Confidence:       clamp(confidence),
		Reasoning:        reasoning,
		SuggestedActions: actions,
	}
}

func enrichOrderDelivered(p *payloads.OrderDeliveredEvent) Result {
	tags := []string{"historic", "delivery"}
	actions := []string{"add_to_training_set"}
	confidence := 0.7
	reasoning := fmt.Sprintf("order %s delivered", p.Reference)

	if p.DecidedAt != nil {
		lead := p.DeliveredAt.Sub(*p.DecidedAt)
		reasoning += fmt.Sprintf(" %s after the decision", lead.Round(time.Minute))
		if lead > slowDeliveryThreshold {
			tags = append(tags, "slow_delivery")
			actions = append(actions, "inspect_route_capacity")
		} else {
			tags = append(tags, "on_time")
			confidence += 0.1
		}
	} else {
		tags = append(tags, "decision_time:missing")
		confidence -= 0.2
	}

	return Result{
		Tags:             tags,
		Confidence:       clamp(confidence),
		Reasoning:        reasoning,
		SuggestedActions: actions,
	}
}

func enrichTelemetry(p *payloads.TelemetryReportedEvent) Result {
	tags := []string{
		"metric:" + tagValue(p.Metric),
		"source:" + tagValue(p.Source),
	}
	if p.Unit != "" {
		tags = append(tags, "unit:"+tagValue(p.Unit))
	}
	labelKeys := make([]string, 0, len(p.Labels))
	for key := range p.Labels {
		labelKeys = append(labelKeys, key)
	}
	sort.Strings(labelKeys)
	for _, key := range labelKeys {
		tags = append(tags, tagValue(key)+":"+tagValue(p.Labels[key]))
	}

	confidence := 0.75
	actions := []string{}
	reasoning := fmt.Sprintf("%s reported %s=%g", p.Source, p.Metric, p.Value)

	if p.Value < 0 {
		tags = append(tags, "anomaly:negative_value")
		actions = append(actions, "flag_sensor")
		confidence = 0.4
	}

	return Result{
		Tags:             tags,
		Confidence:       confidence,
		Reasoning:        reasoning,
		SuggestedActions: actions,
	}
}

func tagValue(raw string) string {
	cleaned := tagSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

func clamp(v float64) float64 {
	return math.Round(math.Max(0, math.Min(1, v))*100) / 100
}
