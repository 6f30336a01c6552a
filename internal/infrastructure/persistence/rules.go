// Package persistence holds encodings shared by the SQL stores
package persistence

import (
	"encoding/json"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// workflowRules is the stored shape of a definition's family parameters
type workflowRules struct {
	Steps               []entity.ApprovalStep `json:"steps,omitempty"`
	EligibleApprovers   []entity.ApproverRef  `json:"eligible_approvers,omitempty"`
	ThresholdPercentage int                   `json:"threshold_percentage"`
	RequiredApprovers   []entity.ApproverRef  `json:"required_approvers,omitempty"`
	ManagerFirst        bool                  `json:"manager_first"`
	PrimaryRule         entity.RuleFamily     `json:"primary_rule,omitempty"`
	SecondaryRule       entity.RuleFamily     `json:"secondary_rule,omitempty"`
}

// EncodeRules serializes the family parameters of def
func EncodeRules(def *entity.WorkflowDefinition) ([]byte, error) {
	return json.Marshal(workflowRules{
		Steps:               def.Steps,
		EligibleApprovers:   def.EligibleApprovers,
		ThresholdPercentage: def.ThresholdPercentage,
		RequiredApprovers:   def.RequiredApprovers,
		ManagerFirst:        def.ManagerFirst,
		PrimaryRule:         def.PrimaryRule,
		SecondaryRule:       def.SecondaryRule,
	})
}

// DecodeRules fills the family parameters of def from raw
func DecodeRules(raw []byte, def *entity.WorkflowDefinition) error {
	var rules workflowRules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return err
	}
	def.Steps = rules.Steps
	def.EligibleApprovers = rules.EligibleApprovers
	def.ThresholdPercentage = rules.ThresholdPercentage
	def.RequiredApprovers = rules.RequiredApprovers
	def.ManagerFirst = rules.ManagerFirst
	def.PrimaryRule = rules.PrimaryRule
	def.SecondaryRule = rules.SecondaryRule
	return nil
}
