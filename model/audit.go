package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventRunLog records one lifecycle transition of a running event:
// start, end, stop or error.
type EventRunLog struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID      string         `gorm:"index:idx_run_trace;size:36" json:"trace_id"`
	EventID      int            `gorm:"index:idx_run_event" json:"event_id"`
	EventName    string         `gorm:"size:128" json:"event_name"`
	PageIndex    int            `json:"page_index"`
	Parallel     bool           `json:"parallel"`
	Action       string         `gorm:"size:32;not null" json:"action"`
	CommandIndex int            `json:"command_index"`
	Error        string         `gorm:"type:text" json:"error"`
	Detail       datatypes.JSON `json:"detail"`
	MapID        int            `json:"map_id"`
	CreatedAt    time.Time      `gorm:"index:idx_run_created;autoCreateTime:milli" json:"created_at"`
}

func (EventRunLog) TableName() string { return "event_run_logs" }
