// Package events 提供监测事件的分发与订阅
// 监测循环产生的事件经由此包持久化、补充统计后广播给订阅者
package events

import (
	"time"

	"statuswatch/internal/monitor"
	"statuswatch/internal/storage"
)

// Kind 事件类型
type Kind string

const (
	KindChecked      Kind = "checked"       // 每个探测周期一次
	KindStateChanged Kind = "state_changed" // 有效状态发生变化时额外产生
)

// Event 监测循环写入事件通道的领域事件
// StateChanged 事件的 Response.State 即新状态
type Event struct {
	Kind     Kind
	Name     string
	At       time.Time
	Response monitor.Response
}

// Checked 构造探测完成事件
func Checked(name string, at time.Time, resp monitor.Response) Event {
	return Event{Kind: KindChecked, Name: name, At: at, Response: resp}
}

// StateChanged 构造状态变更事件
func StateChanged(name string, at time.Time, newState monitor.State) Event {
	return Event{Kind: KindStateChanged, Name: name, At: at, Response: monitor.Response{State: newState}}
}

// Envelope 推送给订阅者的 JSON 事件
type Envelope struct {
	Type           Kind       `json:"type"`
	Name           string     `json:"name"`
	At             int64      `json:"at"`                  // Unix 秒
	State          *int       `json:"state,omitempty"`     // checked：有效状态序号
	NewState       *int       `json:"new_state,omitempty"` // state_changed：新状态序号
	ResponseTimeMs *int64     `json:"response_time_ms,omitempty"`
	ResponseText   string     `json:"response_text,omitempty"`
	Stats          *StatsView `json:"stats,omitempty"`
}

// StatsView MonitorStats 的 JSON 视图
type StatsView struct {
	LastState             int      `json:"last_state"`
	LastStateName         string   `json:"last_state_name"`
	LastUpdate            *int64   `json:"last_update,omitempty"`
	Availability          float64  `json:"availability"`
	AverageResponseTimeMs *float64 `json:"average_response_time_ms,omitempty"`
	LastSeenUp            *int64   `json:"last_seen_up,omitempty"`
	LastSeenDown          *int64   `json:"last_seen_down,omitempty"`
	SampleCount           int      `json:"sample_count"`
}

// EventView StoredEvent 的 JSON 视图
type EventView struct {
	At             int64  `json:"at"`
	State          int    `json:"state"`
	StateName      string `json:"state_name"`
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
	ResponseText   string `json:"response_text,omitempty"`
}

// NewEnvelope 将领域事件转换为订阅者可见的信封；stats 仅对 checked 事件有效
func NewEnvelope(ev Event, stats *storage.MonitorStats) Envelope {
	env := Envelope{
		Type: ev.Kind,
		Name: ev.Name,
		At:   ev.At.Unix(),
	}
	state := int(ev.Response.State)

	switch ev.Kind {
	case KindStateChanged:
		env.NewState = &state
	default:
		env.State = &state
		env.ResponseTimeMs = durationMillis(ev.Response.ResponseTime)
		env.ResponseText = ev.Response.ResponseText
		env.Stats = NewStatsView(stats)
	}
	return env
}

// NewStatsView 转换统计结果；stats 为 nil 时返回 nil
func NewStatsView(stats *storage.MonitorStats) *StatsView {
	if stats == nil {
		return nil
	}
	view := &StatsView{
		LastState:     int(stats.LastState),
		LastStateName: stats.LastState.String(),
		Availability:  stats.Availability,
		LastSeenUp:    unixPtr(stats.LastSeenUp),
		LastSeenDown:  unixPtr(stats.LastSeenDown),
		SampleCount:   stats.SampleCount,
	}
	if !stats.LastUpdate.IsZero() {
		view.LastUpdate = unixPtr(&stats.LastUpdate)
	}
	if stats.AverageResponseTime != nil {
		ms := float64(*stats.AverageResponseTime) / float64(time.Millisecond)
		view.AverageResponseTimeMs = &ms
	}
	return view
}

// NewEventViews 转换事件列表（保持顺序）
func NewEventViews(events []storage.StoredEvent) []EventView {
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, EventView{
			At:             ev.At.Unix(),
			State:          int(ev.State),
			StateName:      ev.State.String(),
			ResponseTimeMs: durationMillis(ev.ResponseTime),
			ResponseText:   ev.ResponseText,
		})
	}
	return views
}

func durationMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}
