package entity

import "time"

// RuleFamily discriminates the approval policy shape of a workflow
type RuleFamily string

const (
	RuleSequential RuleFamily = "SEQUENTIAL"
	RulePercentage RuleFamily = "PERCENTAGE"
	RuleSpecific   RuleFamily = "SPECIFIC"
	RuleHybrid     RuleFamily = "HYBRID"
)

// IsValid returns true if the family is one of the four known families
func (f RuleFamily) IsValid() bool {
	switch f {
	case RuleSequential, RulePercentage, RuleSpecific, RuleHybrid:
		return true
	default:
		return false
	}
}

// ApproverKind says how an approver entry is matched against an actor
type ApproverKind string

const (
	ApproverRole    ApproverKind = "ROLE"
	ApproverUser    ApproverKind = "USER"
	ApproverManager ApproverKind = "MANAGER"
)

// ApprovalStep is one ordered stage of a sequential workflow
type ApprovalStep struct {
	Name          string       `json:"name" yaml:"name"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	ApproverKind  ApproverKind `json:"approver_kind" yaml:"approver_kind"`
	ApproverValue string       `json:"approver_value,omitempty" yaml:"approver_value,omitempty"`
}

// ApproverRef names an approver by role or by user id
type ApproverRef struct {
	Kind  ApproverKind `json:"kind" yaml:"kind"`
	Value string       `json:"value" yaml:"value"`
}

// Matches reports whether the actor satisfies this reference
func (r ApproverRef) Matches(actor Actor) bool {
	switch r.Kind {
	case ApproverRole:
		return string(actor.Role) == r.Value
	case ApproverUser:
		return actor.ID == r.Value
	default:
		return false
	}
}

// WorkflowDefinition is the company-scoped approval configuration.
// Only the parameters of the selected RuleFamily are meaningful; for
// HYBRID, PrimaryRule and SecondaryRule pick which parameters apply.
type WorkflowDefinition struct {
	ID          string     `json:"id" yaml:"-"`
	CompanyID   string     `json:"company_id" yaml:"-"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool       `json:"active" yaml:"active"`
	RuleFamily  RuleFamily `json:"rule_family" yaml:"rule_family"`

	Steps               []ApprovalStep `json:"steps,omitempty" yaml:"steps,omitempty"`
	EligibleApprovers   []ApproverRef  `json:"eligible_approvers,omitempty" yaml:"eligible_approvers,omitempty"`
	ThresholdPercentage int            `json:"threshold_percentage" yaml:"threshold_percentage"`
	RequiredApprovers   []ApproverRef  `json:"required_approvers,omitempty" yaml:"required_approvers,omitempty"`
	ManagerFirst        bool           `json:"manager_first" yaml:"manager_first"`

	PrimaryRule   RuleFamily `json:"primary_rule,omitempty" yaml:"primary_rule,omitempty"`
	SecondaryRule RuleFamily `json:"secondary_rule,omitempty" yaml:"secondary_rule,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Sub returns a copy of the definition re-tagged as the given family.
// Hybrid evaluation dispatches on these sub-definitions.
func (d *WorkflowDefinition) Sub(family RuleFamily) *WorkflowDefinition {
	sub := *d
	sub.RuleFamily = family
	sub.PrimaryRule = ""
	sub.SecondaryRule = ""
	return &sub
}

// TotalSteps is the number of steps shown in progress displays
func (d *WorkflowDefinition) TotalSteps() int {
	if len(d.Steps) == 0 {
		return 1
	}
	return len(d.Steps)
}
