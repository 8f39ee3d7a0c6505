package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/auth"
	"github.com/peertransfer/ledger/internal/ledger"
	"github.com/peertransfer/ledger/internal/models"
	"github.com/peertransfer/ledger/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer operations by kind and outcome",
	}, []string{"kind", "outcome"})
)

// TransferLedger executes transfers. Implemented by *ledger.Ledger.
type TransferLedger interface {
	ExecuteSend(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error)
	ExecuteRequest(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error)
	ApproveRequest(ctx context.Context, transferID, actingUserID int64) error
	RejectRequest(ctx context.Context, transferID, actingUserID int64) error
}

// TransferQuerier serves transfer history and detail. Implemented by *query.Service.
type TransferQuerier interface {
	ListForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error)
	ListPendingRequestsForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error)
	GetDetail(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error)
}

// AccountReader serves balance lookups. Implemented by *store.Store.
type AccountReader interface {
	GetAccountByUser(ctx context.Context, userID int64) (*models.Account, error)
}

// Authenticator resolves credentials and tokens. Implemented by *auth.Gateway.
type Authenticator interface {
	ResolveCaller(ctx context.Context, creds auth.Credentials) (*auth.Caller, error)
	VerifyToken(token string) (int64, error)
}

type Handler struct {
	ledger   TransferLedger
	queries  TransferQuerier
	accounts AccountReader
	authn    Authenticator
	log      *zap.Logger
}

func NewHandler(l TransferLedger, q TransferQuerier, a AccountReader, authn Authenticator, log *zap.Logger) *Handler {
	return &Handler{ledger: l, queries: q, accounts: a, authn: authn, log: log}
}

// Routes builds the full router, middleware included.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, RequestLogger(h.log))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/api/v1/login", h.LoginHandler).Methods("POST")

	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(Authenticate(h.authn))
	authed.HandleFunc("/account/balance", h.GetBalanceHandler).Methods("GET")
	authed.HandleFunc("/transfers/send", h.SendHandler).Methods("POST")
	authed.HandleFunc("/transfers/request", h.RequestHandler).Methods("POST")
	authed.HandleFunc("/transfers/pending", h.ListPendingHandler).Methods("GET")
	authed.HandleFunc("/transfers/{id:[0-9]+}/approve", h.ApproveHandler).Methods("POST")
	authed.HandleFunc("/transfers/{id:[0-9]+}/reject", h.RejectHandler).Methods("POST")
	authed.HandleFunc("/transfers/{id:[0-9]+}", h.GetDetailHandler).Methods("GET")
	authed.HandleFunc("/transfers", h.ListHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/login")
		return
	}

	caller, err := h.authn.ResolveCaller(r.Context(), creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "Invalid username or password", "POST", "/login")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/login")
		return
	}
	respondWithJSON(w, http.StatusOK, caller, "POST", "/login")
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.GetAccountByUser(r.Context(), callerID(r))
	if err != nil {
		code, kind := classify(err)
		respondWithError(w, code, kindMessage(kind), "GET", "/account/balance")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"account_id": acc.ID,
		"balance":    acc.Balance,
	}, "GET", "/account/balance")
}

// SendHandler executes an immediate Send transfer from the caller to the
// counterparty.
func (h *Handler) SendHandler(w http.ResponseWriter, r *http.Request) {
	h.executeTransfer(w, r, "send", func(ctx context.Context, userID int64, req models.TransferRequest) (int64, error) {
		return h.ledger.ExecuteSend(ctx, userID, req.CounterpartyUserID, req.Amount)
	})
}

// RequestHandler records a Pending Request asking the counterparty to pay the
// caller.
func (h *Handler) RequestHandler(w http.ResponseWriter, r *http.Request) {
	h.executeTransfer(w, r, "request", func(ctx context.Context, userID int64, req models.TransferRequest) (int64, error) {
		return h.ledger.ExecuteRequest(ctx, req.CounterpartyUserID, userID, req.Amount)
	})
}

func (h *Handler) executeTransfer(w http.ResponseWriter, r *http.Request, kind string, exec func(context.Context, int64, models.TransferRequest) (int64, error)) {
	endpoint := "/transfers/" + kind
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	transferID, err := exec(r.Context(), callerID(r), req)
	if err != nil {
		code, errKind := classify(err)
		transfersTotal.WithLabelValues(kind, errKind).Inc()
		respondWithJSON(w, code, models.TransferResult{
			Success:      false,
			ErrorKind:    errKind,
			ErrorMessage: kindMessage(errKind),
		}, "POST", endpoint)
		return
	}

	transfersTotal.WithLabelValues(kind, "ok").Inc()
	respondWithJSON(w, http.StatusCreated, models.TransferResult{
		Success:    true,
		TransferID: transferID,
	}, "POST", endpoint)
}

func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, "approve", h.ledger.ApproveRequest)
}

func (h *Handler) RejectHandler(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, "reject", h.ledger.RejectRequest)
}

func (h *Handler) resolveRequest(w http.ResponseWriter, r *http.Request, kind string, action func(context.Context, int64, int64) error) {
	endpoint := "/transfers/{id}/" + kind
	transferID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	if err := action(r.Context(), transferID, callerID(r)); err != nil {
		code, errKind := classify(err)
		transfersTotal.WithLabelValues(kind, errKind).Inc()
		respondWithJSON(w, code, models.TransferResult{
			Success:      false,
			ErrorKind:    errKind,
			ErrorMessage: kindMessage(errKind),
		}, "POST", endpoint)
		return
	}

	transfersTotal.WithLabelValues(kind, "ok").Inc()
	respondWithJSON(w, http.StatusOK, models.TransferResult{
		Success:    true,
		TransferID: transferID,
	}, "POST", endpoint)
}

func (h *Handler) ListHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.queries.ListForUser(r.Context(), callerID(r))
	if err != nil {
		code, kind := classify(err)
		respondWithError(w, code, kindMessage(kind), "GET", "/transfers")
		return
	}
	respondWithJSON(w, http.StatusOK, transfers, "GET", "/transfers")
}

func (h *Handler) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.queries.ListPendingRequestsForUser(r.Context(), callerID(r))
	if err != nil {
		code, kind := classify(err)
		respondWithError(w, code, kindMessage(kind), "GET", "/transfers/pending")
		return
	}
	respondWithJSON(w, http.StatusOK, transfers, "GET", "/transfers/pending")
}

func (h *Handler) GetDetailHandler(w http.ResponseWriter, r *http.Request) {
	transferID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	detail, err := h.queries.GetDetail(r.Context(), transferID, callerID(r))
	if err != nil {
		code, kind := classify(err)
		respondWithError(w, code, kindMessage(kind), "GET", "/transfers/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, detail, "GET", "/transfers/{id}")
}

// classify maps a ledger error to an HTTP status and a stable error kind.
// Anything unrecognized is a persistence failure, never a success.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledger.ErrTransferNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrSelfTransfer):
		return http.StatusUnprocessableEntity, "self_transfer"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledger.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledger.ErrContentionTimeout):
		return http.StatusServiceUnavailable, "contention_timeout"
	default:
		return http.StatusInternalServerError, "persistence_failure"
	}
}

func kindMessage(kind string) string {
	switch kind {
	case "account_not_found":
		return "Account not found"
	case "not_found":
		return "Transfer not found"
	case "self_transfer":
		return "You cannot send money to yourself"
	case "invalid_amount":
		return "Amount must be greater than zero"
	case "insufficient_funds":
		return "Insufficient funds"
	case "invalid_state":
		return "Transfer is no longer pending"
	case "forbidden":
		return "You are not a party to this transfer"
	case "contention_timeout":
		return "Accounts are busy, please retry"
	default:
		return "Internal Server Error"
	}
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
