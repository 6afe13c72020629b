package handlers

import (
	"net/http"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
)

// decodeCall parses a POSTed JSON-RPC request into params. On failure the
// error is recorded for the error adapter and ok is false.
func decodeCall(r *http.Request, params any) (*jsonrpcx.JSONRPCRequest, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return nil, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, false
	}

	if params != nil {
		if err := req.DecodeParams(params); err != nil {
			jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return nil, false
		}
	}
	return req, true
}
