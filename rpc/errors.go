package rpc

import (
	"errors"
	"net/http"

	nativecommon "eurstable/native/common"
	"eurstable/native/oracle"
	"eurstable/native/pool"
	"eurstable/native/token"
	"eurstable/native/vault"
)

// moduleError translates an engine error into the HTTP status and JSON-RPC
// code reported to clients. Unrecognised errors surface as generic server
// faults so internal detail never leaks verbatim.
func moduleError(err error) (int, int, string) {
	switch {
	case errors.Is(err, pool.ErrUnauthorized),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized, "caller not authorised"
	case errors.Is(err, pool.ErrNoSuchVault):
		return http.StatusNotFound, codeNotFound, "no vault registered for asset"
	case errors.Is(err, pool.ErrVaultExists):
		return http.StatusConflict, codePrecondition, "vault already registered for asset"
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrZeroShares):
		return http.StatusBadRequest, codeInvalidParams, err.Error()
	case errors.Is(err, pool.ErrUndercollateralized):
		return http.StatusConflict, codePrecondition, "position would become undercollateralized"
	case errors.Is(err, pool.ErrNoDebt):
		return http.StatusConflict, codePrecondition, "account has no outstanding debt"
	case errors.Is(err, pool.ErrHealthy):
		return http.StatusConflict, codePrecondition, "position is healthy"
	case errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusConflict, codePrecondition, err.Error()
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, codeModulePaused, "module operations are paused"
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaMintCapExceeded):
		return http.StatusTooManyRequests, codeRateLimited, err.Error()
	case errors.Is(err, oracle.ErrNoFreshQuote):
		return http.StatusServiceUnavailable, codeStalePrice, "no fresh price quote available"
	case errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusServiceUnavailable, codeStalePrice, "price feed returned an invalid quote"
	case errors.Is(err, oracle.ErrUnknownAsset):
		return http.StatusNotFound, codeNotFound, "no price feed for asset"
	default:
		return http.StatusInternalServerError, codeServerError, "internal error"
	}
}

func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	status, code, message := moduleError(err)
	var data interface{}
	if status != http.StatusInternalServerError {
		data = err.Error()
	}
	writeError(w, status, id, code, message, data)
}
