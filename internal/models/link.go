package models

import (
	"time"

	"gorm.io/gorm"
)

type Link struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	Slug                string         `gorm:"size:20;not null" json:"slug"`
	URL                 string         `gorm:"column:url;not null;type:text" json:"url"`
	OwnerID             *uint          `gorm:"index" json:"owner_id,omitempty"`
	Title               string         `gorm:"size:255" json:"title,omitempty"`
	Description         string         `gorm:"type:text" json:"description,omitempty"`
	IsDisabled          bool           `gorm:"default:false" json:"is_disabled"`
	IsPasswordProtected bool           `gorm:"default:false" json:"is_password_protected"`
	PasswordHash        string         `gorm:"size:255" json:"password_hash,omitempty"`
	PasswordSalt        string         `gorm:"size:64" json:"password_salt,omitempty"`
	ExpiresAt           *time.Time     `json:"expires_at,omitempty"`
	AutoDeleteExpired   bool           `gorm:"default:false" json:"auto_delete_expired"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Link) TableName() string {
	return "links"
}

// IsExpired reports whether the link has an expiry in the past relative to now.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// IsOwnedBy reports whether userID owns the link. Anonymous links have no owner.
func (l *Link) IsOwnedBy(userID *uint) bool {
	return l.OwnerID != nil && userID != nil && *l.OwnerID == *userID
}

// LinkMetadata is the lightweight projection cached under link_metadata:{slug}.
type LinkMetadata struct {
	ID        uint      `json:"id"`
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Link) Metadata() LinkMetadata {
	return LinkMetadata{
		ID:        l.ID,
		Slug:      l.Slug,
		URL:       l.URL,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}
