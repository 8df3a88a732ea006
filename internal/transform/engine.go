package transform

import (
	"context"
	"fmt"
	"time"

	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/errors"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Engine applies declarative two-stage transformations: source payload to
// canonical document, then canonical document to the target connector's
// format. Rules are read-only configuration; the engine never mutates them
// or the message it is given.
type Engine struct {
	transformations store.TransformationRepository
	expr            *ExprEvaluator
	logger          logger.Logger
}

func NewEngine(transformations store.TransformationRepository, expr *ExprEvaluator, log logger.Logger) *Engine {
	return &Engine{
		transformations: transformations,
		expr:            expr,
		logger:          log,
	}
}

// Transform looks up the best matching rule for the message's route and
// applies both stages. A missing rule is a non-retryable error; a rule
// whose mappings blow up at runtime yields a failed result tagged with the
// rule's id.
func (e *Engine) Transform(ctx context.Context, msg *models.IntegrationMessage) (*models.TransformResult, error) {
	start := time.Now()

	rule, err := e.transformations.FindBest(ctx, msg.SourceConnector, msg.TargetConnector, msg.Type)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if rule == nil {
		metrics.TransformationsTotal.WithLabelValues("no_rule").Inc()
		return nil, errors.ErrNoTransformation.
			WithDetail("source_connector", msg.SourceConnector).
			WithDetail("target_connector", msg.TargetConnector).
			WithDetail("type", msg.Type)
	}

	result := e.Apply(ctx, rule, msg.SourcePayload)

	status := "success"
	if !result.Success {
		status = "failed"
	}
	metrics.TransformationsTotal.WithLabelValues(status).Inc()
	metrics.ObserveTransformDuration(time.Since(start), status)

	if len(result.Warnings) > 0 {
		e.logger.WarnwCtx(ctx, "Computed fields failed during transformation",
			"transformation_id", rule.ID,
			"message_id", msg.ID,
			"warnings", result.Warnings,
		)
	}

	return result, nil
}

// Apply runs both stages of a specific rule against a payload. It is also
// the preview path, so it works on unpersisted rules.
func (e *Engine) Apply(ctx context.Context, rule *models.IntegrationTransformation, payload map[string]interface{}) *models.TransformResult {
	result := &models.TransformResult{
		TransformationID: rule.ID,
		TargetType:       rule.TargetType,
	}

	canonical, warnings, err := e.applyRuleSet(ctx, rule.SourceToCanonical, payload)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("source_to_canonical: %v", err))
		return result
	}
	result.CanonicalPayload = canonical

	target, warnings, err := e.applyRuleSet(ctx, rule.CanonicalToTarget, canonical)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("canonical_to_target: %v", err))
		return result
	}
	result.TargetPayload = target

	result.Success = true
	return result
}

// applyRuleSet builds one stage's output: defaults first, mappings over
// them, computed fields last. A mapping whose source path is absent is
// skipped; a computed field that fails is reported as a warning and
// skipped.
func (e *Engine) applyRuleSet(ctx context.Context, rs models.RuleSet, input map[string]interface{}) (map[string]interface{}, []string, error) {
	if input == nil {
		return nil, nil, fmt.Errorf("input document is nil")
	}

	doc := make(map[string]interface{}, len(rs.Defaults)+len(rs.Mappings))
	for key, value := range rs.Defaults {
		Assign(doc, key, value)
	}

	for _, mapping := range rs.Mappings {
		if mapping.Source == "" || mapping.Target == "" {
			return nil, nil, fmt.Errorf("mapping with empty source or target path")
		}
		value, ok := Lookup(input, mapping.Source)
		if !ok {
			continue
		}
		Assign(doc, mapping.Target, value)
	}

	var warnings []string
	for _, computed := range rs.Computed {
		value, err := e.expr.Eval(ctx, computed.Expression, input, doc)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("computed field %q: %v", computed.Field, err))
			continue
		}
		Assign(doc, computed.Field, value)
	}

	return doc, warnings, nil
}

// ValidateRule checks every expression in both stages without evaluating
// them, for rule creation and preview endpoints.
func (e *Engine) ValidateRule(rule *models.IntegrationTransformation) error {
	for _, stage := range []models.RuleSet{rule.SourceToCanonical, rule.CanonicalToTarget} {
		for _, mapping := range stage.Mappings {
			if mapping.Source == "" || mapping.Target == "" {
				return fmt.Errorf("mapping with empty source or target path")
			}
		}
		for _, computed := range stage.Computed {
			if computed.Field == "" {
				return fmt.Errorf("computed field with empty target path")
			}
			if err := e.expr.Validate(computed.Expression); err != nil {
				return fmt.Errorf("computed field %q: %w", computed.Field, err)
			}
		}
	}
	return nil
}
