package models

import (
	"time"
)

// Column widths of the bounded VisitorEvent fields.
const (
	IPAddressMaxLen  = 45
	BrowserMaxLen    = 100
	DeviceMaxLen     = 50
	PlatformMaxLen   = 100
	CountryMaxLen    = 100
	CityMaxLen       = 100
	RegionMaxLen     = 100
	PostalCodeMaxLen = 20
)

// VisitorEvent is one resolved click. Rows are append-only and keyed to a link by slug only,
// so history survives link deletion.
type VisitorEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Slug       string    `gorm:"size:20;not null;index" json:"slug"`
	IPAddress  string    `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent  string    `gorm:"type:text" json:"user_agent,omitempty"`
	Browser    string    `gorm:"size:100" json:"browser"`
	Device     string    `gorm:"size:50" json:"device"`
	Platform   string    `gorm:"size:100" json:"platform"`
	Referer    string    `gorm:"type:text;default:'Direct'" json:"referer"`
	Country    string    `gorm:"size:100;default:'Unknown'" json:"country"`
	City       string    `gorm:"size:100" json:"city"`
	Region     string    `gorm:"size:100" json:"region"`
	PostalCode string    `gorm:"size:20" json:"postal_code"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// LinkStats is the aggregate served by the stats endpoint and cached under analytics:{slug}.
type LinkStats struct {
	Slug        string           `json:"slug"`
	TotalClicks int64            `json:"total_clicks"`
	Countries   map[string]int64 `json:"countries"`
	Browsers    map[string]int64 `json:"browsers"`
	Devices     map[string]int64 `json:"devices"`
	Referers    map[string]int64 `json:"referers"`
}
