package entity

// ExpenseStatus is the lifecycle status of an expense
type ExpenseStatus string

// Status constants for Expense
const (
	StatusDraft     ExpenseStatus = "DRAFT"
	StatusPending   ExpenseStatus = "PENDING"
	StatusApproved  ExpenseStatus = "APPROVED"
	StatusRejected  ExpenseStatus = "REJECTED"
	StatusCancelled ExpenseStatus = "CANCELLED"
)

// IsValid returns true if the status is known
func (s ExpenseStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no approval can be recorded in this status
func (s ExpenseStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Decision is the outcome an approver records
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// IsValid returns true for APPROVED and REJECTED
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Role is a user's role inside a company
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	default:
		return false
	}
}

// Category constants for Expense
const (
	CategoryTravel         = "TRAVEL"
	CategoryMeals          = "MEALS"
	CategoryAccommodation  = "ACCOMMODATION"
	CategoryTransportation = "TRANSPORTATION"
	CategoryOfficeSupplies = "OFFICE_SUPPLIES"
	CategoryEntertainment  = "ENTERTAINMENT"
	CategoryTraining       = "TRAINING"
	CategoryOther          = "OTHER"
)

var validCategories = map[string]bool{
	CategoryTravel:         true,
	CategoryMeals:          true,
	CategoryAccommodation:  true,
	CategoryTransportation: true,
	CategoryOfficeSupplies: true,
	CategoryEntertainment:  true,
	CategoryTraining:       true,
	CategoryOther:          true,
}

// IsValidCategory returns true if category is one of the known expense categories
func IsValidCategory(category string) bool {
	return validCategories[category]
}

// Approval level constants recorded with each permission decision
const (
	LevelAdminOverride    = "ADMIN_OVERRIDE"
	LevelManager          = "MANAGER"
	LevelManagerFirst     = "MANAGER_FIRST"
	LevelSpecificUser     = "SPECIFIC_USER"
	LevelPercentage       = "PERCENTAGE"
	LevelSpecific         = "SPECIFIC"
	LevelHybridSequential = "HYBRID_SEQUENTIAL"
	LevelHybridPercentage = "HYBRID_PERCENTAGE"
	LevelHybridSpecific   = "HYBRID_SPECIFIC"
)
