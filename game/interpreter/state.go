// Package interpreter 实现事件指令解释器：以帧为单位协作调度多个事件实例，
// 每个实例拥有独立的指令指针、循环栈与分支栈。
package interpreter

import (
	"fmt"
	"sync"
)

// State 表示解释器实例的运行状态。
type State int

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StatePaused
	StateFinished
	StateError
)

var stateNames = [...]string{"idle", "running", "waiting", "paused", "finished", "error"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ---- 外部协作者接口 ----

// GameStateAccessor 提供开关与变量的读写访问。所有实例共享同一个访问器，
// 同一帧内后执行的实例能读到先执行实例的写入。
type GameStateAccessor interface {
	GetSwitch(id int) bool
	SetSwitch(id int, val bool)
	GetVariable(id int) int
	SetVariable(id int, val int)
}

// SelfSwitchStore 提供按 (事件 ID, 通道) 划分的独立开关存储。
type SelfSwitchStore interface {
	GetSelfSwitch(eventID int, ch string) bool
	SetSelfSwitch(eventID int, ch string, val bool)
}

// BusEvent 是发往事件总线的通知。Data 直接携带指令原始参数。
type BusEvent struct {
	Type    string                 `json:"type"`
	EventID int                    `json:"event_id"`
	Data    map[string]interface{} `json:"data"`
}

// 总线事件类型。
const (
	BusTextDisplayed    = "text_displayed"
	BusChoicesDisplayed = "choices_displayed"
	BusPlayBGM          = "play_bgm"
	BusFadeoutBGM       = "fadeout_bgm"
	BusPlaySE           = "play_se"
	BusTransferPlayer   = "transfer_player"
	BusMoveRoute        = "move_route"
)

// EventBus 接收解释器发出的通知。解释器允许其为 nil。
type EventBus interface {
	Emit(ev BusEvent)
}

// ---- MemorySelfSwitches ----

type selfSwitchKey struct {
	eventID int
	ch      string
}

// MemorySelfSwitches 是 SelfSwitchStore 的内存实现，未注入存储时作为默认值。
type MemorySelfSwitches struct {
	mu   sync.RWMutex
	vals map[selfSwitchKey]bool
}

// NewMemorySelfSwitches 创建空的内存独立开关存储。
func NewMemorySelfSwitches() *MemorySelfSwitches {
	return &MemorySelfSwitches{vals: make(map[selfSwitchKey]bool)}
}

func (m *MemorySelfSwitches) GetSelfSwitch(eventID int, ch string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vals[selfSwitchKey{eventID, ch}]
}

func (m *MemorySelfSwitches) SetSelfSwitch(eventID int, ch string, val bool) {
	m.mu.Lock()
	m.vals[selfSwitchKey{eventID, ch}] = val
	m.mu.Unlock()
}
