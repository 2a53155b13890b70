package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"eurstable/crypto"
	"eurstable/native/oracle"
	"eurstable/native/pool"
	"eurstable/native/solvency"
	"eurstable/native/token"
	"eurstable/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeRateLimited    = -32020
	codePrecondition   = -32030
	codeModulePaused   = -32040
	codeStalePrice     = -32050
)

// Backends resolves the process-local adapters bound to a collateral asset
// when a vault is registered over RPC. The adapters are supplied by the host
// process and never travel over the wire.
type Backends = pool.VaultDeps

// Funder seeds collateral asset balances. Backends that implement it expose
// the asset_fund admin method, used for local runs and integration tests.
type Funder interface {
	Fund(asset string, account crypto.Address, amount *big.Int) error
}

// ServerConfig carries the operator-tunable settings for the JSON-RPC
// surface.
type ServerConfig struct {
	AuthToken       string
	RateLimitPerMin float64
	RateBurst       int
}

type Server struct {
	engine   *pool.Engine
	stable   *token.Token
	backends Backends
	prices   *oracle.StaticFeed

	authToken string
	rateLimit rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter

	logger *slog.Logger
	now    func() time.Time
}

// NewServer wires the JSON-RPC surface over the lending pool engine. The
// prices feed is optional; when present it backs the oracle_setPrice admin
// method.
func NewServer(engine *pool.Engine, stable *token.Token, backends Backends, prices *oracle.StaticFeed, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	perSecond := cfg.RateLimitPerMin / 60.0
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	return &Server{
		engine:    engine,
		stable:    stable,
		backends:  backends,
		prices:    prices,
		authToken: strings.TrimSpace(cfg.AuthToken),
		rateLimit: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
		logger:    logger.With(slog.String("component", "rpc")),
		now:       time.Now,
	}
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Serve runs the JSON-RPC server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	reader := http.MaxBytesReader(recorder, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	recorder.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(recorder, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(recorder, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if !s.allowClient(clientIP(r)) {
		observability.ModuleMetrics().RecordThrottle(moduleOf(req.Method), "rate_limit")
		writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	s.dispatch(recorder, r, req)

	observability.ModuleMetrics().Observe(moduleOf(req.Method), req.Method, recorder.status, time.Since(start))
	if recorder.status >= 400 {
		s.logger.Warn("rpc request failed",
			slog.String("method", req.Method),
			slog.Int("status", recorder.status),
		)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "pool_createVault":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolCreateVault(w, req)
	case "pool_depositCollateral":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolDepositCollateral(w, req)
	case "pool_withdrawCollateral":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolWithdrawCollateral(w, req)
	case "pool_mintDebt":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolMintDebt(w, req)
	case "pool_repayDebt":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolRepayDebt(w, req)
	case "pool_liquidate":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePoolLiquidate(w, req)
	case "pool_healthRatio":
		s.handlePoolHealthRatio(w, req)
	case "pool_debtOf":
		s.handlePoolDebtOf(w, req)
	case "pool_collateralValue":
		s.handlePoolCollateralValue(w, req)
	case "pool_vaults":
		s.handlePoolVaults(w, req)
	case "pool_vaultState":
		s.handlePoolVaultState(w, req)
	case "token_balanceOf":
		s.handleTokenBalanceOf(w, req)
	case "token_totalSupply":
		s.handleTokenTotalSupply(w, req)
	case "asset_fund":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAssetFund(w, req)
	case "oracle_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleOracleSetPrice(w, req)
	case "oracle_price":
		s.handleOraclePrice(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowClient(id string) bool {
	if id == "" {
		id = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.visitors[id] = limiter
	}
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func moduleOf(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return method
}

func hasParams(req *RPCRequest) bool {
	trimmed := bytes.TrimSpace(req.Params)
	if len(trimmed) == 0 {
		return false
	}
	return !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte("[]"))
}

func parseParams(req *RPCRequest, dest interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params required")
	}
	raw := req.Params
	// Accept both positional single-object and named-object forms.
	var positional []json.RawMessage
	if err := json.Unmarshal(raw, &positional); err == nil {
		if len(positional) != 1 {
			return fmt.Errorf("expected a single parameter object")
		}
		raw = positional[0]
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parseAddressField(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

func parseAmountField(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid %s: expected positive decimal string", field)
	}
	return amount, nil
}

// ratioString renders a health ratio for transport. The unbounded ratio of a
// debt-free account is reported as "infinite" rather than a numeral.
func ratioString(ratio *big.Int) string {
	if ratio.Cmp(solvency.RatioInfinite) == 0 {
		return "infinite"
	}
	return ratio.String()
}
