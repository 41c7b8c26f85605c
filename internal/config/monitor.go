package config

import "time"

// 监测类型（与 monitor.Kind 保持一致）
const (
	TypeHTTP    = "http"
	TypeTCP     = "tcp"
	TypeDNS     = "dns"
	TypeICMP    = "icmp"
	TypeCheckIn = "checkin"
)

// MonitorConfig 单个监测项配置
type MonitorConfig struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"` // http/tcp/dns/icmp/checkin

	// 彻底停用：不创建监测循环、不存储
	Disabled bool `yaml:"disabled" json:"disabled"`

	// ===== HTTP =====
	URL                string            `yaml:"url" json:"url,omitempty"`
	Method             string            `yaml:"method" json:"method,omitempty"`
	Headers            map[string]string `yaml:"headers" json:"-"`
	Body               string            `yaml:"body" json:"-"`
	ExpectedStatus     []int             `yaml:"expected_status" json:"expected_status,omitempty"` // 为空时接受任意 2xx
	SuccessContains    string            `yaml:"success_contains" json:"success_contains,omitempty"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" json:"insecure_skip_verify,omitempty"`

	// ===== TCP / ICMP =====
	Host string `yaml:"host" json:"host,omitempty"`
	Port int    `yaml:"port" json:"port,omitempty"`

	// ===== DNS =====
	// Host 复用为查询的域名
	RecordType string `yaml:"record_type" json:"record_type,omitempty"` // 默认 A
	Resolver   string `yaml:"resolver" json:"resolver,omitempty"`       // host:port，为空时读取 /etc/resolv.conf
	Expected   string `yaml:"expected" json:"expected,omitempty"`       // 可选：应答中必须出现的值

	// ===== check-in（推送型）=====
	Secret string `yaml:"secret" json:"-"`

	// 超过该时长未收到 check-in 即判定 Down
	IntervalToDown string `yaml:"interval_to_down" json:"interval_to_down,omitempty"`

	// ===== 调度与状态判定 =====
	IntervalWhenUp   string `yaml:"interval_when_up" json:"interval_when_up,omitempty"`
	IntervalWhenDown string `yaml:"interval_when_down" json:"interval_when_down,omitempty"`
	Timeout          string `yaml:"timeout" json:"timeout,omitempty"`
	WarnTimeout      string `yaml:"warn_timeout" json:"warn_timeout,omitempty"`

	// 连续失败未达到该次数前显示为 degraded（nil 时继承 defaults）
	IgnoreFailCount *int `yaml:"ignore_fail_count" json:"ignore_fail_count,omitempty"`

	// 反转 Up/Down（用于"应当不可达"的目标）
	UpsideDown bool `yaml:"upside_down" json:"upside_down,omitempty"`

	// 解析后的值（内部使用，不序列化）
	IntervalWhenUpDuration   time.Duration `yaml:"-" json:"-"`
	IntervalWhenDownDuration time.Duration `yaml:"-" json:"-"`
	TimeoutDuration          time.Duration `yaml:"-" json:"-"`
	WarnTimeoutDuration      time.Duration `yaml:"-" json:"-"`
	IntervalToDownDuration   time.Duration `yaml:"-" json:"-"`
	IgnoreFailCountValue     int           `yaml:"-" json:"-"`
}

// IsCheckIn 是否为推送型监测
func (m *MonitorConfig) IsCheckIn() bool {
	return m.Type == TypeCheckIn
}
