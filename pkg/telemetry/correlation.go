package telemetry

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey type for context keys
type ContextKey string

const (
	// OperationIDKey is the context key for the operation a call belongs to.
	OperationIDKey ContextKey = "operation_id"
)

const (
	// HeaderRequestID carries the hierarchical id of an outbound dependency call.
	HeaderRequestID = "Request-Id"
	// HeaderRequestContext identifies the calling application to the callee.
	HeaderRequestContext = "Request-Context"
)

// NewID returns a 32-character hex id suitable for operation and dependency ids.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// WithOperationID returns ctx carrying operationID.
func WithOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, OperationIDKey, operationID)
}

// GetOperationID retrieves the operation id from context
func GetOperationID(ctx context.Context) string {
	if id, ok := ctx.Value(OperationIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestID formats the hierarchical request id "|<operation>.<dependency>.".
func RequestID(operationID, dependencyID string) string {
	return "|" + operationID + "." + dependencyID + "."
}

// InjectCorrelationHeaders adds the request id and application context to an
// outbound request unless the caller already set them.
func InjectCorrelationHeaders(headers http.Header, operationID, dependencyID, appID string) {
	if headers.Get(HeaderRequestID) == "" {
		headers.Set(HeaderRequestID, RequestID(operationID, dependencyID))
	}
	if appID != "" && headers.Get(HeaderRequestContext) == "" {
		headers.Set(HeaderRequestContext, "appId=cid-v1:"+appID)
	}
}
