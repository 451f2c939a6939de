package routing

import (
	"fmt"
	"strings"
)

// Status 工序状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 未开始
	StatusSetup     Status = "SETUP"     // 调机
	StatusRunning   Status = "RUNNING"   // 加工中
	StatusPaused    Status = "PAUSED"    // 暂停
	StatusCompleted Status = "COMPLETED" // 完成
	StatusScrapped  Status = "SCRAPPED"  // 报废
	StatusSkipped   Status = "SKIPPED"   // 跳过
)

// AllStatuses 全部工序状态
var AllStatuses = []Status{
	StatusPending,
	StatusSetup,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusScrapped,
	StatusSkipped,
}

// ParseStatus 解析状态字符串（大小写不敏感）
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsActive 调机或加工中
func (s Status) IsActive() bool {
	return s == StatusSetup || s == StatusRunning
}

// IsTerminal 终态：完成、报废、跳过
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusScrapped || s == StatusSkipped
}

// IsComplete 终态且视为完工，后续工序可以开始
func (s Status) IsComplete() bool {
	return s == StatusCompleted || s == StatusSkipped
}

func (s Status) String() string {
	return string(s)
}
