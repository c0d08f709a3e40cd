package models

import "time"

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

type User struct {
	UserID    string     `json:"user_id" db:"user_id" example:"2f9c3b1e-6f0d-4c1e-9a55-7b1f0c1d2e3f"`
	Email     string     `json:"email" db:"email" example:"user@example.com"`
	Name      string     `json:"name" db:"name" example:"Taro Yamada"`
	Status    UserStatus `json:"status" db:"status" example:"active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Active reports whether the user takes part in batch runs and valuations
func (u User) Active() bool {
	return u.Status != UserStatusDeleted
}

// Principal is the authenticated caller as supplied by the identity provider
type Principal struct {
	UserID      string   `json:"user_id"`
	Groups      []string `json:"groups"`
	Permissions []string `json:"permissions"`
}

func (p Principal) HasPermission(permission string) bool {
	for _, granted := range p.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// Permission keys checked by the ledger operations
const (
	PermTransactionRead      = "transaction:read"
	PermTransactionRequest   = "transaction:request"
	PermTransactionCreate    = "transaction:create"
	PermTransactionApprove   = "transaction:approve"
	PermAdminTransactionRead = "admin:transaction:read"
	PermBatchExecute         = "batch:execute"
	PermBatchRead            = "batch:read"
	PermMarketRateRead       = "market_rate:read"
	PermMarketRateCreate     = "market_rate:create"
	PermDashboardAccess      = "dashboard:access"
	PermUserRead             = "user:read"
)

// SystemPrincipal acts for background recovery of stuck batches
var SystemPrincipal = Principal{
	UserID:      "system",
	Groups:      []string{"system"},
	Permissions: []string{PermBatchExecute, PermBatchRead},
}
