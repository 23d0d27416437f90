package errors

import "sync"

// 交易机器人全量错误码。新增错误码必须同时补充注册表默认属性。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeUserInput             Code = "USER_INPUT_INVALID"
	CodeAuthFailed            Code = "AUTH_FAILED"
	CodeSessionExpired        Code = "SESSION_EXPIRED"
	CodeChainReverted         Code = "CHAIN_REVERTED"
	CodeChainSubmit           Code = "CHAIN_SUBMIT_FAILED"
	CodeFeedUnavailable       Code = "FEED_UNAVAILABLE"
	CodeConfigInvalid         Code = "CONFIG_INVALID"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex

	// registry 给每个错误码定义默认文案、严重程度、重试与告警策略。
	// 用户输入类错误最轻；链上回滚是业务告警而非系统告警；
	// 存储、队列、配置类问题才升级到 critical 并触发告警。
	registry = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeUserInput:             {Message: "invalid user input", Severity: SeverityInfo},
		CodeAuthFailed:            {Message: "account derivation failed", Severity: SeverityInfo},
		CodeSessionExpired:        {Message: "session expired", Severity: SeverityInfo},
		CodeChainReverted:         {Message: "transaction reverted on chain", Severity: SeverityWarning},
		CodeChainSubmit:           {Message: "transaction submission failed", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeFeedUnavailable:       {Message: "trade feed unavailable", Severity: SeverityWarning, Retryable: true},
		CodeConfigInvalid:         {Message: "invalid configuration", Severity: SeverityCritical, Alert: true},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
	}
)

// Register 注册或覆盖一个错误码的默认属性。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码的默认属性，未注册的错误码退回 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}
