package domain

import "time"

// KVEntry backs the SQL implementation of the lock/result store. Rows whose
// ExpiresAt has passed are treated as absent and may be reclaimed in place.
type KVEntry struct {
	Key       string    `gorm:"type:varchar(255);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (KVEntry) TableName() string { return "kv_entries" }
