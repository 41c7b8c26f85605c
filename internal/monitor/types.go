package monitor

import (
	"fmt"
	"strings"
	"time"
)

// State 监测状态（有序枚举，序号即事件中的 state 字段）
type State int

const (
	StateUnknown  State = iota // 尚未探测或结果不可判定
	StateUp                    // 可用
	StateDown                  // 不可用
	StateWarn                  // 可用但响应慢/软失败
	StateDegraded              // 连续失败次数仍在容忍范围内时替代 Down/Warn 的合成状态
)

var stateNames = [...]string{"unknown", "up", "down", "warn", "degraded"}

// String 返回小写状态名
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsValid 检查状态值是否在枚举范围内
func (s State) IsValid() bool {
	return s >= StateUnknown && s <= StateDegraded
}

// IsFailure 是否为真实失败状态（Down/Warn），用于连续失败计数
func (s State) IsFailure() bool {
	return s == StateDown || s == StateWarn
}

// ParseState 解析状态名（大小写不敏感）
func ParseState(name string) (State, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, v := range stateNames {
		if v == n {
			return State(i), nil
		}
	}
	return StateUnknown, fmt.Errorf("未知状态: %q", name)
}

// Kind 监测类型
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTCP     Kind = "tcp"
	KindDNS     Kind = "dns"
	KindICMP    Kind = "icmp"
	KindCheckIn Kind = "checkin" // 推送型：由目标主动上报
)

// IsValid 检查类型是否受支持
func (k Kind) IsValid() bool {
	switch k {
	case KindHTTP, KindTCP, KindDNS, KindICMP, KindCheckIn:
		return true
	default:
		return false
	}
}

// IsPush 是否为推送型（check-in）监测
func (k Kind) IsPush() bool {
	return k == KindCheckIn
}

// Response 单次探测结果或 check-in 上报内容
type Response struct {
	State        State
	ResponseTime *time.Duration // nil 表示没有响应时间
	ResponseText string         // 空字符串表示没有附加说明
}

// WithState 返回替换状态后的副本
func (r Response) WithState(s State) Response {
	r.State = s
	return r
}

// Descriptor 监测项描述（启动时由配置生成，之后只读）
type Descriptor struct {
	Name             string
	Kind             Kind
	IntervalWhenUp   time.Duration
	IntervalWhenDown time.Duration
	Timeout          time.Duration
	WarnTimeout      time.Duration // 0 表示不启用慢响应判定
	IgnoreFailCount  int
	UpsideDown       bool

	// IntervalToDown 仅推送型使用：超过该时长未收到 check-in 即判定 Down
	IntervalToDown time.Duration
}

// NextInterval 根据最新的有效状态计算下一次探测前的等待时长（拉取型）
func (d *Descriptor) NextInterval(s State) time.Duration {
	if s == StateUp || s == StateUnknown {
		return d.IntervalWhenUp
	}
	return d.IntervalWhenDown
}

// RuntimeStatus 监测循环的运行时状态，仅由所属循环读写
type RuntimeStatus struct {
	LastKnownState       State
	ConsecutiveFailCount int
}

// DurationPtr 返回 d 的指针，便于构造可选响应时间
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}
