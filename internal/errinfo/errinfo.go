package errinfo

// ErrorInfo is the structured error payload returned by engine operations.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Subphase  string   `json:"subphase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	AgentID   string   `json:"agent_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Path      string   `json:"path,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeInvalidPath          = "INVALID_PATH"
	CodeFileNotFound         = "FILE_NOT_FOUND"
	CodeFileReadFailed       = "FILE_READ_FAILED"
	CodeFileWriteFailed      = "FILE_WRITE_FAILED"
	CodeGatewayNotConfigured = "GATEWAY_NOT_CONFIGURED"
	CodeGatewayAuthFailed    = "GATEWAY_AUTH_FAILED"
	CodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	CodeGatewayRateLimited   = "GATEWAY_RATE_LIMITED"
	CodeGatewayTimeout       = "GATEWAY_TIMEOUT"
	CodeNetworkUnavailable   = "NETWORK_UNAVAILABLE"
	CodeEgressBlocked        = "EGRESS_BLOCKED_BY_POLICY"
	CodeUserCanceled         = "USER_CANCELED"
)

const ActionOpenSettings = "open_settings"

const (
	PhaseBroadcast = "broadcast"
	PhaseStream    = "stream"
	PhaseExtract   = "extract"
	PhaseApply     = "apply"
	PhaseWorkspace = "workspace"
	PhaseSettings  = "settings"
)

const (
	SubphaseWrite  = "write"
	SubphaseRevert = "revert"
)

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func InvalidPath(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeInvalidPath,
		Phase:     phase,
		Retryable: false,
		Path:      path,
		Detail:    detail,
	}
}

func FileNotFound(phase, path string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileNotFound,
		Phase:     phase,
		Retryable: false,
		Path:      path,
	}
}

func FileReadFailed(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Path:      path,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Path:      path,
		Detail:    detail,
	}
}

// GatewayNotConfigured signals that no gateway key is stored yet. The
// stream-class codes above never take this form: stream failures travel as
// error frames carrying the bare code, not as operation errors.
func GatewayNotConfigured(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeGatewayNotConfigured,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}
