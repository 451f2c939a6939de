package routing

import (
	"fmt"
	"time"
)

// TransitionTable 允许的状态转换表: from -> 可达状态
type TransitionTable map[Status][]Status

// DefaultTransitions 默认转换表，可由配置 routing.transitions 覆盖
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		StatusPending: {StatusSetup, StatusRunning, StatusSkipped, StatusScrapped},
		StatusSetup:   {StatusRunning, StatusPaused, StatusScrapped},
		StatusRunning: {StatusPaused, StatusCompleted, StatusScrapped},
		StatusPaused:  {StatusSetup, StatusRunning, StatusCompleted, StatusScrapped},
	}
}

// ParseTransitions 从配置构建转换表，空配置返回默认表
func ParseTransitions(raw map[string][]string) (TransitionTable, error) {
	if len(raw) == 0 {
		return DefaultTransitions(), nil
	}
	table := make(TransitionTable, len(raw))
	for from, targets := range raw {
		f, err := ParseStatus(from)
		if err != nil {
			return nil, fmt.Errorf("transition source: %w", err)
		}
		for _, to := range targets {
			t, err := ParseStatus(to)
			if err != nil {
				return nil, fmt.Errorf("transition target of %s: %w", f, err)
			}
			table[f] = append(table[f], t)
		}
	}
	return table, nil
}

func (t TransitionTable) Allows(from, to Status) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Decision 校验结果
type Decision struct {
	Status     Status
	NoOp       bool // 目标状态与当前状态相同
	Overridden bool // 通过管理员覆盖才被批准
}

// Validate 校验一次状态转换。preds 为同一工艺路线中的直接前置工序。
// override 表示调用方持有管理员覆盖权限并显式请求覆盖。
func (t TransitionTable) Validate(current, requested Status, preds []Predecessor, override bool) (Decision, error) {
	if !current.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownStatus, current)
	}
	if !requested.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownStatus, requested)
	}
	d := Decision{Status: requested}
	if current == requested {
		d.NoOp = true
		return d, nil
	}

	if current.IsTerminal() && !requested.IsTerminal() {
		if !override {
			return Decision{}, &TransitionError{From: current, To: requested, Err: ErrIllegalBackTransition}
		}
		d.Overridden = true
	} else if !t.Allows(current, requested) {
		if !override {
			return Decision{}, &TransitionError{From: current, To: requested, Err: ErrInvalidTransition}
		}
		d.Overridden = true
	}

	if entersWork(current, requested) {
		if blocking := BlockingPredecessors(preds); len(blocking) > 0 {
			if !override {
				return Decision{}, &TransitionError{From: current, To: requested, Blocking: blocking, Err: ErrPredecessorNotReady}
			}
			d.Overridden = true
		}
	}
	return d, nil
}

// entersWork 是否从非调机/加工状态进入调机、加工或完工
func entersWork(current, requested Status) bool {
	if current.IsActive() {
		return false
	}
	return requested.IsActive() || requested == StatusCompleted
}

// BlockingPredecessors 返回阻止开工的前置工序ID
func BlockingPredecessors(preds []Predecessor) []string {
	var ids []string
	for _, p := range preds {
		if !p.SatisfiesStart() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Timestamps 工序时间戳
type Timestamps struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NextTimestamps 计算进入 to 状态后的时间戳。
// StartedAt 仅在首次进入调机/加工时记录且永不清除；CompletedAt 当且仅当状态为 COMPLETED 时存在。
func NextTimestamps(cur Timestamps, to Status, now time.Time) Timestamps {
	next := cur
	if to.IsActive() && next.StartedAt == nil {
		t := now
		next.StartedAt = &t
	}
	if to == StatusCompleted {
		if next.CompletedAt == nil {
			t := now
			next.CompletedAt = &t
		}
	} else {
		next.CompletedAt = nil
	}
	return next
}
