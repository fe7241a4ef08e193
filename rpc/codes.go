package rpc

import "github.com/pml-run/pml/core"

// JSON-RPC 2.0 reserved codes, plus the §7 Kind mapping onto them.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// codeForKind maps a core.Kind to its stable JSON-RPC error code per §7:
// invalid_params and not_found both surface as -32602; storage and internal
// surface as -32603. backend_tool/timeout/cancelled are not RPC-boundary
// errors — they are captured on the task result and the workflow continues,
// so they never reach this mapping in a well-formed caller. pool_exhausted
// and rate_limited are reported with their own dedicated code so transport
// adapters (HTTP 429, etc.) can special-case them instead of treating every
// -32603 the same.
func codeForKind(k core.Kind) int {
	switch k {
	case core.KindInvalidParams, core.KindNotFound:
		return CodeInvalidParams
	case core.KindStorage, core.KindInternal:
		return CodeInternalError
	case core.KindPoolExhausted:
		return codePoolExhausted
	case core.KindRateLimited:
		return codeRateLimited
	default:
		return CodeInternalError
	}
}

// Non-reserved application codes, placed below -32000 per the JSON-RPC 2.0
// spec's "implementation-defined server-error" range.
const (
	codePoolExhausted = -32001
	codeRateLimited    = -32002
)

// errorFromErr builds an RPCError from any error, preferring the
// structured core.Kind when present.
func errorFromErr(op string, err error) *RPCError {
	kind := core.KindOf(err)
	return &RPCError{Code: codeForKind(kind), Message: op + ": " + err.Error()}
}
