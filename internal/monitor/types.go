package monitor

import "time"

// EventType 表示监控事件类型。
type EventType string

const (
	EventLogin     EventType = "session_login"
	EventLogout    EventType = "session_logout"
	EventExecution EventType = "order_execution"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// LoginPayload 记录登录结果。
type LoginPayload struct {
	ClientCode  string `json:"client_code"`
	Instruments int    `json:"instruments"`
	Funds       string `json:"funds"`
}

// LogoutPayload 记录登出。
type LogoutPayload struct {
	ClientCode string `json:"client_code,omitempty"`
}

// ExecutionPayload 为一次委托请求的摘要，不含子单回执。
type ExecutionPayload struct {
	BatchID      string `json:"batch_id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"order_type"`
	TotalQty     int64  `json:"total_qty"`
	SliceSize    int64  `json:"slice_size"`
	Children     int    `json:"children"`
	SubmittedQty int64  `json:"submitted_qty"`
	Sliced       bool   `json:"sliced"`
	Error        string `json:"error,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
