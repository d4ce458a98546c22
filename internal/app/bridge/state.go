package bridge

// NotifierState 表示账户通知器的状态。
type NotifierState string

const (
	// StateUnknown 表示激活后尚未观察到任何账户值，下一次观察必定发出事件。
	StateUnknown NotifierState = "UNKNOWN"
	// StateKnown 表示已向宿主发布过账户值，只有值变化才会再次发出事件。
	StateKnown NotifierState = "KNOWN"
)

func (s NotifierState) String() string {
	switch s {
	case StateUnknown, StateKnown:
		return string(s)
	default:
		return "UNKNOWN"
	}
}
