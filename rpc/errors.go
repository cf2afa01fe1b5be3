package rpc

import (
	"encoding/json"
	"net/http"

	"nhbvault/vault"
)

// ModuleError is the JSON-RPC-flavored error shape every handler returns
// through, following the teacher's rpc/modules.ModuleError idiom: an HTTP
// status for the transport plus a stable numeric code for the payload.
type ModuleError struct {
	HTTPStatus int         `json:"-"`
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Numeric codes for the spec.md §7 error taxonomy, in the -32000 JSON-RPC
// server-error range, plus two transport-level codes vault.ProtocolError
// never produces (auth, rate limiting).
const (
	codeAnonymousCaller    = -32001
	codeAlreadyProcessing  = -32002
	codeTemporarilyUnavail = -32003
	codeAmountTooLow       = -32004
	codeCallerNotOwner     = -32005
	codeTransferFailed     = -32006
	codeTransferFromFailed = -32007
	codeGeneric            = -32000
	codeUnauthorized       = -32010
	codeRateLimited        = -32011
	codeInvalidParams      = -32602
)

// mapProtocolError translates vault.ProtocolError into the transport error
// shape, one case per spec.md §7 error kind.
func mapProtocolError(err *vault.ProtocolError) *ModuleError {
	switch err.Kind {
	case vault.ErrAnonymousCallerNotAllowed:
		return &ModuleError{HTTPStatus: http.StatusUnauthorized, Code: codeAnonymousCaller, Message: err.Error()}
	case vault.ErrAlreadyProcessing:
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeAlreadyProcessing, Message: err.Error()}
	case vault.ErrTemporarilyUnavailable:
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeTemporarilyUnavail, Message: err.Error()}
	case vault.ErrAmountTooLow:
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeAmountTooLow, Message: err.Error(), Data: map[string]uint64{"minimum": err.Minimum}}
	case vault.ErrCallerNotOwner:
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeCallerNotOwner, Message: err.Error()}
	case vault.ErrTransferFailed:
		return &ModuleError{HTTPStatus: http.StatusBadGateway, Code: codeTransferFailed, Message: err.Error()}
	case vault.ErrTransferFromFailed:
		return &ModuleError{HTTPStatus: http.StatusBadGateway, Code: codeTransferFromFailed, Message: err.Error(), Data: map[string]uint64{"attempted": err.AttemptedAmount}}
	default:
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeGeneric, Message: err.Error()}
	}
}

func writeModuleError(w http.ResponseWriter, modErr *ModuleError) {
	status := modErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error *ModuleError `json:"error"`
	}{Error: modErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
