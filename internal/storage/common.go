// Package storage 提供事件持久化、统计与清理
package storage

import (
	"time"

	"statuswatch/internal/monitor"
)

// 时间戳统一以毫秒存储

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// cutoffMillis 向上取整到毫秒：at_ms < cutoffMillis(t) 当且仅当毫秒时间戳严格早于 t
func cutoffMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(fromMillis(ms)) {
		ms++
	}
	return ms
}

// nullableMillis 将可选时长转换为可空的毫秒值
func nullableMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// durationFromMillis 将可空毫秒值还原为可选时长
func durationFromMillis(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// timeFromMillis 将可空毫秒值还原为可选时间
func timeFromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

// nullableText 空字符串存为 NULL
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// lastSeenColumns 根据状态返回需要写入的 (up, down) 毫秒值；其它状态返回 ok=false
func lastSeenColumns(state monitor.State, at time.Time) (up, down *int64, ok bool) {
	ms := toMillis(at)
	switch state {
	case monitor.StateUp:
		return &ms, nil, true
	case monitor.StateDown:
		return nil, &ms, true
	default:
		return nil, nil, false
	}
}

// reverseEvents 原地反转（DESC 与 ASC 互转）
func reverseEvents(events []StoredEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
