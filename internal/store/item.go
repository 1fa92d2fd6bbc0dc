package store

import "time"

// MaxNameLength bounds item names at the persistence layer to match the
// validation performed at the API edge.
const MaxNameLength = 120

// Item is a catalog entry.
type Item struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:120;not null;index" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Price       float64   `gorm:"not null" json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName keeps the table name stable regardless of gorm naming defaults.
func (Item) TableName() string { return "items" }
