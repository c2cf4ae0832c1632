package visitors

import (
	"strings"
	"time"
)

// Account captures the authentication side of a registered person. A
// visitor row is always created alongside it and never exists without
// one.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	Username     string    `gorm:"column:username;size:150;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:60;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}

// Visitor is the public profile attached one-to-one to an account.
type Visitor struct {
	ID        uint    `gorm:"column:id;primaryKey;autoIncrement"`
	AccountID string  `gorm:"column:account_id;size:36;not null;uniqueIndex"`
	Account   Account `gorm:"constraint:OnDelete:CASCADE"`
	Name      string  `gorm:"column:name;size:100;not null;default:''"`
	Surname   string  `gorm:"column:surname;size:100;not null;default:''"`
	Bio       string  `gorm:"column:bio;size:500;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Visitor) TableName() string {
	return "visitors"
}

// DisplayName renders the profile as "Surname Name", trimmed when either
// part is missing.
func (v Visitor) DisplayName() string {
	return strings.TrimSpace(v.Surname + " " + v.Name)
}
