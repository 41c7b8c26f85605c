package monitor

// Evaluate 将原始探测结果转换为有效状态
//
// 处理顺序：
//   - Up 清零连续失败计数；Down/Warn 累加计数，计数未达到 IgnoreFailCount 时替换为 Degraded；Unknown 不改变计数
//   - UpsideDown 在平滑之后只交换 Up 与 Down，Warn/Degraded 保持不变
//   - 有效状态与 LastKnownState 不同即视为状态变更（首次脱离 Unknown 也算）
//
// 除 status 外没有副作用
func Evaluate(d *Descriptor, status *RuntimeStatus, raw Response) (Response, bool) {
	effective := raw.State

	switch {
	case effective == StateUp:
		status.ConsecutiveFailCount = 0
	case effective.IsFailure():
		status.ConsecutiveFailCount++
		if d.IgnoreFailCount > 0 && status.ConsecutiveFailCount < d.IgnoreFailCount {
			effective = StateDegraded
		}
	}

	if d.UpsideDown {
		switch effective {
		case StateUp:
			effective = StateDown
		case StateDown:
			effective = StateUp
		}
	}

	prev := status.LastKnownState
	changed := (prev == StateUnknown && effective != StateUnknown) ||
		(prev != StateUnknown && prev != effective)

	status.LastKnownState = effective
	return raw.WithState(effective), changed
}
