package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCNotification is a server-initiated message without an id, pushed
// over the event stream
type JSONRPCNotification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a 2.0 notification
func NewNotification(method string, params any) JSONRPCNotification {
	return JSONRPCNotification{Jsonrpc: "2.0", Method: method, Params: params}
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Server-defined range
	Unauthorized     = -32001
	UpstreamFailure  = -32002
	PermissionDenied = -32003
	NotFound         = -32004
	AlreadyExists    = -32009
	RateLimited      = -32029
)

var errVersion = errors.New("jsonrpc version must be 2.0")

// maxBody caps a request; the largest call is a base64 document upload
const maxBody = 16 << 20

// ParseRequest decodes a 2.0 request from the HTTP body
func ParseRequest(r *http.Request) (*JSONRPCRequest, error) {
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		return nil, err
	}
	if req.JSONRPC != "2.0" {
		return nil, errVersion
	}
	return &req, nil
}

// DecodeParams unmarshals the request params into dest. Missing params leave
// dest untouched.
func (r *JSONRPCRequest) DecodeParams(dest any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil
	}
	return json.Unmarshal(r.Params, dest)
}

// Success writes a result response
func Success(w http.ResponseWriter, id any, result any) {
	Write(w, JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

type errorSlotKey struct{}

// errorSlot is installed by the error adapter middleware so handlers deep in
// the chain can hand an error response back up
type errorSlot struct {
	response *JSONRPCResponse
}

// WithErrorSlot prepares ctx to receive an error from WithError
func WithErrorSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, errorSlotKey{}, &errorSlot{})
}

// PendingError returns the error response recorded by WithError, if any
func PendingError(ctx context.Context) (*JSONRPCResponse, bool) {
	slot, ok := ctx.Value(errorSlotKey{}).(*errorSlot)
	if !ok || slot.response == nil {
		return nil, false
	}
	return slot.response, true
}

// WithError records an error for the error adapter middleware. Without the
// middleware in the chain, nothing is written.
func WithError(r *http.Request, id any, code int, message string) {
	withErrorData(r, id, code, message, nil)
}

func withErrorData(r *http.Request, id any, code int, message string, data any) {
	slot, ok := r.Context().Value(errorSlotKey{}).(*errorSlot)
	if !ok {
		return
	}
	resp := errorResponse(id, code, message, data)
	slot.response = &resp
}

// WithDomainError records err mapped from its kind to a JSON-RPC code
func WithDomainError(r *http.Request, id any, err error) {
	kind := shared.KindOf(err)
	withErrorData(r, id, CodeForKind(kind), err.Error(), map[string]string{"kind": string(kind)})
}

// CodeForKind maps an error kind to a JSON-RPC error code
func CodeForKind(kind shared.Kind) int {
	switch kind {
	case shared.KindInvalidInput, shared.KindInvalidCoordinate:
		return InvalidParams
	case shared.KindNotFound:
		return NotFound
	case shared.KindUnauthorized:
		return Unauthorized
	case shared.KindPermissionDenied:
		return PermissionDenied
	case shared.KindAlreadyExists:
		return AlreadyExists
	case shared.KindNetworkFailure, shared.KindRejected, shared.KindMalformedResponse, shared.KindLocationUnavailable:
		return UpstreamFailure
	default:
		return InternalError
	}
}

// Error writes an error response immediately. Handlers use WithError;
// this is for middleware that runs outside the error slot.
func Error(w http.ResponseWriter, id any, code int, message string) {
	Write(w, errorResponse(id, code, message, nil))
}

func errorResponse(id any, code int, message string, data any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// Write encodes response with HTTP 200; the JSON-RPC error carries failures
func Write(w http.ResponseWriter, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
