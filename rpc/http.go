package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vestd/core"
	"vestd/observability"
	"vestd/sale"
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
)

// Server exposes the sale node over JSON-RPC 2.0. Every mutating method,
// participant and administrative alike, requires the bearer token; the
// caller-supplied account stands in for the transaction sender. Read methods
// are open.
type Server struct {
	node      *core.Node
	authToken string
	logger    *slog.Logger
}

func NewServer(node *core.Node, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, authToken: strings.TrimSpace(authToken), logger: logger}
}

// Handler returns the root JSON-RPC handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Start serves JSON-RPC on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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

// errorCode maps domain sentinel errors onto JSON-RPC error codes: malformed
// or unacceptable inputs map to invalid params, conflicts with current ledger
// state map to the generic server error.
func errorCode(err error) int {
	switch {
	case errors.Is(err, sale.ErrZeroQuantity),
		errors.Is(err, sale.ErrInvalidAmount),
		errors.Is(err, sale.ErrInvalidTimestamp),
		errors.Is(err, sale.ErrInvalidCode),
		errors.Is(err, sale.ErrInvalidPool),
		errors.Is(err, sale.ErrUnknownCode),
		errors.Is(err, sale.ErrSelfReferral),
		errors.Is(err, sale.ErrSelfTransfer),
		errors.Is(err, sale.ErrQuoteUnavailable),
		errors.Is(err, sale.ErrEmptyBatch),
		errors.Is(err, sale.ErrBatchEntryInvalid),
		errors.Is(err, sale.ErrScheduleInvalid),
		errors.Is(err, sale.ErrPaymentMismatch):
		return codeInvalidParams
	case errors.Is(err, sale.ErrUnauthorized):
		return codeUnauthorized
	default:
		return codeServerError
	}
}

func errorStatus(code int) int {
	switch code {
	case codeInvalidParams:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	code := errorCode(err)
	writeError(w, errorStatus(code), id, code, err.Error(), nil)
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return fmt.Errorf("%w: RPC authentication token not configured", sale.ErrUnauthorized)
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("%w: missing Authorization header", sale.ErrUnauthorized)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("%w: Authorization header must use Bearer scheme", sale.ErrUnauthorized)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return fmt.Errorf("%w: missing bearer token", sale.ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return fmt.Errorf("%w: invalid RPC credentials", sale.ErrUnauthorized)
	}
	return nil
}

// requiresAuth reports whether the method mutates ledger state and so needs
// the bearer token.
func requiresAuth(method string) bool {
	if strings.HasPrefix(method, "saleAdmin_") {
		return true
	}
	switch method {
	case "sale_purchase", "sale_transfer", "sale_claim", "sale_claimBuyback", "sale_assignCode":
		return true
	}
	return false
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, req)
	observability.Sale().ObserveRPC(req.Method, outcome, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if requiresAuth(req.Method) {
		if err := s.requireAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
			return "unauthorized"
		}
	}

	switch req.Method {
	case "sale_quote":
		return s.handleQuote(w, req)
	case "sale_previewClaimable":
		return s.handlePreviewClaimable(w, req)
	case "sale_balanceAtDay":
		return s.handleBalanceAtDay(w, req)
	case "sale_buybackBalance":
		return s.handleBuybackBalance(w, req)
	case "sale_resolveCode":
		return s.handleResolveCode(w, req)
	case "sale_totals":
		return s.handleTotals(w, req)
	case "sale_events":
		return s.handleEvents(w, req)
	case "sale_purchase":
		return s.handlePurchase(w, req)
	case "sale_transfer":
		return s.handleTransfer(w, req)
	case "sale_claim":
		return s.handleClaim(w, req)
	case "sale_claimBuyback":
		return s.handleClaimBuyback(w, req)
	case "sale_assignCode":
		return s.handleAssignCode(w, req)
	case "saleAdmin_initializeSchedule":
		return s.handleInitializeSchedule(w, req)
	case "saleAdmin_backfill":
		return s.handleBackfill(w, req)
	case "saleAdmin_bulkBackfill":
		return s.handleBulkBackfill(w, req)
	case "saleAdmin_bulkAssignCodes":
		return s.handleBulkAssignCodes(w, req)
	case "saleAdmin_advance":
		return s.handleAdvance(w, req)
	case "saleAdmin_pause":
		return s.handlePause(w, req)
	case "saleAdmin_resume":
		return s.handleResume(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return "not_found"
	}
}
