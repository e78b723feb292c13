package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an account row. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	FullName     string     `json:"full_name"`
	Role         string     `gorm:"default:'user'" json:"role"` // user, admin
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Watchlist is one tracked ticker for a user, with an optional price alert.
type Watchlist struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     uint            `gorm:"index" json:"user_id"`
	User       User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Ticker     string          `gorm:"index;not null" json:"ticker"`
	Notes      string          `json:"notes"`
	AlertPrice decimal.Decimal `gorm:"type:decimal(15,2)" json:"alert_price"`
	AlertType  string          `json:"alert_type"` // above, below, both
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Alert type constants for watchlist
const (
	AlertTypeAbove = "above"
	AlertTypeBelow = "below"
	AlertTypeBoth  = "both"
)

// ValidWatchlistAlertTypes returns valid alert types for watchlist
func ValidWatchlistAlertTypes() []string {
	return []string{AlertTypeAbove, AlertTypeBelow, AlertTypeBoth}
}

// Role constants
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
