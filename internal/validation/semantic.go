package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omnivurse/crm-eco-sub011/internal/expressions"
	"github.com/omnivurse/crm-eco-sub011/internal/timing"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// EngineLookup resolves expression engines by name.
type EngineLookup interface {
	Get(name string) (expressions.Engine, error)
}

// validateSemantic checks what the JSON Schema cannot express: step ordering,
// per-type configuration, time and weekday constraints, and engine names.
func validateSemantic(def *schema.SequenceDefinition, engines EngineLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	validateSettings(def.Settings, result)

	for i, ec := range def.ExitConditions {
		path := fmt.Sprintf("exit_conditions[%d]", i)
		switch ec.Type {
		case schema.ExitTagAdded:
			if strings.TrimSpace(ec.Tag) == "" {
				result.Errorf(path+".tag", "tag_added exit condition requires a tag")
			}
		case schema.ExitUnsubscribed:
			if ec.Tag != "" {
				result.Warnf(path+".tag", "tag is ignored for unsubscribed exit conditions")
			}
		default:
			result.Errorf(path+".type", "unknown exit condition type %q", ec.Type)
		}
	}

	if len(def.Steps) == 0 {
		result.Warnf("steps", "sequence has no steps and cannot accept enrollments")
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if i > 0 && step.Order <= def.Steps[i-1].Order {
			result.Errorf(path+".step_order", "step_order %d must be greater than previous step_order %d",
				step.Order, def.Steps[i-1].Order)
		}
		validateStep(step, path, engines, result)
	}

	return result
}

func validateSettings(s schema.SequenceSettings, result *schema.ValidationResult) {
	if s.SendTime != "" {
		if _, _, err := timing.ParseSendTime(s.SendTime); err != nil {
			result.Errorf("settings.send_time", "%s", issueMessage(err))
		}
	}
	if _, err := timing.ParseWeekdays(s.SendDays); err != nil {
		result.Errorf("settings.send_days", "%s", issueMessage(err))
	}
	if _, err := s.Location(); err != nil {
		result.Errorf("settings.timezone", "unknown timezone %q", s.Timezone)
	}
	if s.ThrottleDaily > 0 {
		result.Warnf("settings.throttle_daily", "throttle_daily is stored but not enforced")
	}
}

func validateStep(step *schema.StepDefinition, path string, engines EngineLookup, result *schema.ValidationResult) {
	switch step.Type {
	case schema.StepTypeEmail:
		if step.Email == nil {
			result.Errorf(path+".email", "email step requires an email block")
			return
		}
		if step.Condition != nil {
			result.Errorf(path+".condition", "email step must not carry a condition block")
		}
		validateEmail(step.Email, path+".email", result)

	case schema.StepTypeWait:
		if step.Email != nil || step.Condition != nil {
			result.Errorf(path, "wait step carries only a delay")
		}
		if step.Delay.IsZero() {
			result.Warnf(path+".delay", "wait step with zero delay has no effect")
		}

	case schema.StepTypeCondition:
		if step.Condition == nil {
			result.Errorf(path+".condition", "condition step requires a condition block")
			return
		}
		if step.Email != nil {
			result.Errorf(path+".email", "condition step must not carry an email block")
		}
		validateCondition(step.Condition, path+".condition", engines, result)

	default:
		result.Errorf(path+".step_type", "unknown step type %q", step.Type)
	}
}

func validateEmail(cfg *schema.EmailConfig, path string, result *schema.ValidationResult) {
	if strings.TrimSpace(cfg.Subject) == "" {
		result.Errorf(path+".subject", "subject is required")
	}
	if cfg.HTMLBody == "" && cfg.TextBody == "" {
		result.Warnf(path, "email has neither html_body nor text_body")
	}
	if cfg.SendTime != "" {
		if _, _, err := timing.ParseSendTime(cfg.SendTime); err != nil {
			result.Errorf(path+".send_time", "%s", issueMessage(err))
		}
	}
	if _, err := timing.ParseWeekdays(cfg.SendDays); err != nil {
		result.Errorf(path+".send_days", "%s", issueMessage(err))
	}
}

func validateCondition(cfg *schema.ConditionConfig, path string, engines EngineLookup, result *schema.ValidationResult) {
	switch cfg.Type {
	case schema.ConditionEmailOpened, schema.ConditionLinkClicked:
	case schema.ConditionFieldValue:
		if cfg.Field == "" {
			result.Errorf(path+".field", "field_value condition requires a field")
		}
		switch cfg.Operator {
		case schema.OperatorEquals, schema.OperatorNotEquals, schema.OperatorContains:
		case schema.OperatorIsEmpty, schema.OperatorIsNotEmpty:
			if cfg.Value != "" {
				result.Warnf(path+".value", "value is ignored by operator %q", cfg.Operator)
			}
		case "":
			result.Errorf(path+".operator", "field_value condition requires an operator")
		default:
			result.Errorf(path+".operator", "unknown operator %q", cfg.Operator)
		}
	case schema.ConditionExpression:
		if strings.TrimSpace(cfg.Expression) == "" {
			result.Errorf(path+".expression", "expression condition requires an expression")
		}
		if engines != nil {
			if _, err := engines.Get(cfg.Engine); err != nil {
				result.Errorf(path+".engine", "expression engine %q is not registered", cfg.Engine)
			}
		}
	default:
		result.Errorf(path+".type", "unknown condition type %q", cfg.Type)
	}

	if cfg.ThenStep != 0 || cfg.ElseStep != 0 {
		result.Warnf(path, "then_step/else_step are recorded but sequences advance linearly")
	}
}

// issueMessage strips the code prefix from structured errors.
func issueMessage(err error) string {
	var serr *schema.SequencerError
	if errors.As(err, &serr) {
		return serr.Message
	}
	return err.Error()
}
