package entity

import "time"

// Company owns users, expenses and workflows
type Company struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DefaultCurrency string    `json:"default_currency"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is a member of a company. ManagerID links the org chart.
type User struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	ManagerID  string    `json:"manager_id,omitempty"`
	LarkOpenID string    `json:"lark_open_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor is the evaluating view of a user acting on one expense
type Actor struct {
	ID                 string
	Name               string
	Role               Role
	CompanyID          string
	ManagerOfSubmitter bool
}

// NewActor builds the actor view of user for an expense whose submitter
// relationship was resolved by the org chart
func NewActor(user *User, managerOfSubmitter bool) Actor {
	return Actor{
		ID:                 user.ID,
		Name:               user.Name,
		Role:               user.Role,
		CompanyID:          user.CompanyID,
		ManagerOfSubmitter: managerOfSubmitter,
	}
}
