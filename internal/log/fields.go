package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldIdentityRef   = "identity_ref"
	FieldTransactionID = "transaction_id"
	FieldAccountID     = "account_id"
	FieldCategoryID    = "category_id"
	FieldAmount        = "amount"
	FieldTxType        = "tx_type"
	FieldTxStatus      = "tx_status"
	FieldDelta         = "delta"
	FieldEvent         = "event"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentLedger       = "ledger"
	ComponentSummary      = "summary"
	ComponentProvisioning = "provisioning"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentReceipt      = "receipt"
	ComponentAuth         = "auth"
	ComponentCache        = "cache"
	ComponentSecurity     = "security"
	ComponentRateLimit    = "rate_limit"
	ComponentTrace        = "trace"
	ComponentBackend      = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpSummarize = "summarize"
	OpProvision = "provision"
	OpReconcile = "reconcile"
	OpAudit     = "audit"
	OpPublish   = "publish"
	OpExtract   = "extract"
	OpValidate  = "validate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories. core error kinds
// reuse these strings so logs and API responses agree.
const (
	ErrorTypeValidation      = "validation_error"
	ErrorTypeConfiguration   = "configuration_error"
	ErrorTypeDatabase        = "database_error"
	ErrorTypeNetwork         = "network_error"
	ErrorTypeAuth            = "auth_error"
	ErrorTypeTimeout         = "timeout_error"
	ErrorTypeNotFound        = "not_found_error"
	ErrorTypeConflict        = "conflict_error"
	ErrorTypeExternalService = "external_service_error"
	ErrorTypeInternal        = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds the error category
func (f LogFields) WithErrorType(errType string) LogFields {
	if errType != "" {
		f[FieldErrorType] = errType
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the owning user id
func (f LogFields) WithUser(userID string) LogFields {
	f[FieldUserID] = userID
	return f
}

// WithTransaction adds ledger transaction fields. amount is the decimal
// string form so no precision is lost in the log line.
func (f LogFields) WithTransaction(id, accountID, txType, status, amount string) LogFields {
	f[FieldTransactionID] = id
	f[FieldAccountID] = accountID
	f[FieldTxType] = txType
	f[FieldTxStatus] = status
	f[FieldAmount] = amount
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
