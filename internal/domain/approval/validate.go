package approval

import (
	"strings"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ValidateDefinition checks that the selected rule family has its required
// parameters. Errors match ErrInvalidDefinition and are *DefinitionError.
func ValidateDefinition(def *entity.WorkflowDefinition) error {
	if def == nil {
		return invalid("", "workflow definition is required")
	}
	if strings.TrimSpace(def.Name) == "" {
		return invalid("name", "is required")
	}
	if !def.RuleFamily.IsValid() {
		return invalid("rule_family", "must be one of SEQUENTIAL, PERCENTAGE, SPECIFIC, HYBRID, got %q", def.RuleFamily)
	}
	return validateFamily(def, def.RuleFamily)
}

func validateFamily(def *entity.WorkflowDefinition, family entity.RuleFamily) error {
	switch family {
	case entity.RuleSequential:
		return validateSteps(def.Steps)

	case entity.RulePercentage:
		if def.ThresholdPercentage < 0 || def.ThresholdPercentage > 100 {
			return invalid("threshold_percentage", "must be between 0 and 100, got %d", def.ThresholdPercentage)
		}
		return validateRefs("eligible_approvers", def.EligibleApprovers)

	case entity.RuleSpecific:
		return validateRefs("required_approvers", def.RequiredApprovers)

	case entity.RuleHybrid:
		if def.PrimaryRule != entity.RuleSequential {
			return invalid("primary_rule", "must be SEQUENTIAL, got %q", def.PrimaryRule)
		}
		if def.SecondaryRule != entity.RulePercentage && def.SecondaryRule != entity.RuleSpecific {
			return invalid("secondary_rule", "must be PERCENTAGE or SPECIFIC, got %q", def.SecondaryRule)
		}
		if err := validateFamily(def, def.PrimaryRule); err != nil {
			return err
		}
		return validateFamily(def, def.SecondaryRule)

	default:
		return invalid("rule_family", "unsupported rule family %q", family)
	}
}

func validateSteps(steps []entity.ApprovalStep) error {
	if len(steps) == 0 {
		return invalid("steps", "sequential rules must have at least one step")
	}

	for i, step := range steps {
		if strings.TrimSpace(step.Name) == "" {
			return invalid("steps", "step %d has no name", i+1)
		}
		switch step.ApproverKind {
		case entity.ApproverRole, entity.ApproverUser:
			if strings.TrimSpace(step.ApproverValue) == "" {
				return invalid("steps", "step %d (%s) needs an approver value", i+1, step.Name)
			}
		case entity.ApproverManager:
		default:
			return invalid("steps", "step %d (%s) has unknown approver kind %q", i+1, step.Name, step.ApproverKind)
		}
	}
	return nil
}

func validateRefs(field string, refs []entity.ApproverRef) error {
	if len(refs) == 0 {
		return invalid(field, "must have at least one approver")
	}

	seen := make(map[entity.ApproverRef]bool, len(refs))
	for i, ref := range refs {
		if ref.Kind != entity.ApproverRole && ref.Kind != entity.ApproverUser {
			return invalid(field, "entry %d must be ROLE or USER, got %q", i+1, ref.Kind)
		}
		if strings.TrimSpace(ref.Value) == "" {
			return invalid(field, "entry %d has no value", i+1)
		}
		if seen[ref] {
			return invalid(field, "entry %d duplicates %s %s", i+1, ref.Kind, ref.Value)
		}
		seen[ref] = true
	}
	return nil
}
