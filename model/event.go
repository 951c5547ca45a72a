package model

import (
	"time"

	"gorm.io/datatypes"
)

// StoredEvent keeps one event definition in its JSON map form.
type StoredEvent struct {
	EventID   int            `gorm:"primaryKey;autoIncrement:false" json:"event_id"`
	Name      string         `gorm:"size:128" json:"name"`
	Data      datatypes.JSON `json:"data"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

func (StoredEvent) TableName() string { return "stored_events" }
