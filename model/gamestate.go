package model

// GameSwitch stores a global switch (ON/OFF) state.
type GameSwitch struct {
	SwitchID int  `gorm:"primaryKey;autoIncrement:false" json:"switch_id"`
	Value    bool `json:"value"`
}

func (GameSwitch) TableName() string { return "game_switches" }

// GameVariable stores a global integer variable.
type GameVariable struct {
	VariableID int `gorm:"primaryKey;autoIncrement:false" json:"variable_id"`
	Value      int `json:"value"`
}

func (GameVariable) TableName() string { return "game_variables" }

// GameSelfSwitch stores one self-switch channel of one event on one map.
type GameSelfSwitch struct {
	MapID   int    `gorm:"primaryKey;autoIncrement:false" json:"map_id"`
	EventID int    `gorm:"primaryKey;autoIncrement:false" json:"event_id"`
	Ch      string `gorm:"primaryKey;size:8" json:"ch"` // "A","B","C","D"
	Value   bool   `json:"value"`
}

func (GameSelfSwitch) TableName() string { return "game_self_switches" }
