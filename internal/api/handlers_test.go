package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/api"
	"github.com/peertransfer/ledger/internal/auth"
	"github.com/peertransfer/ledger/internal/ledger"
	"github.com/peertransfer/ledger/internal/models"
)

// ---- mock implementations ----

type mockLedger struct {
	sendFn    func(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error)
	requestFn func(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error)
	approveFn func(ctx context.Context, transferID, actingUserID int64) error
	rejectFn  func(ctx context.Context, transferID, actingUserID int64) error
}

func (m *mockLedger) ExecuteSend(ctx context.Context, from, to int64, amount decimal.Decimal) (int64, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, from, to, amount)
	}
	return 0, fmt.Errorf("not configured")
}
func (m *mockLedger) ExecuteRequest(ctx context.Context, from, to int64, amount decimal.Decimal) (int64, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, from, to, amount)
	}
	return 0, fmt.Errorf("not configured")
}
func (m *mockLedger) ApproveRequest(ctx context.Context, transferID, actingUserID int64) error {
	if m.approveFn != nil {
		return m.approveFn(ctx, transferID, actingUserID)
	}
	return fmt.Errorf("not configured")
}
func (m *mockLedger) RejectRequest(ctx context.Context, transferID, actingUserID int64) error {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, transferID, actingUserID)
	}
	return fmt.Errorf("not configured")
}

type mockQuerier struct {
	listFn    func(ctx context.Context, userID int64) ([]models.TransferSummary, error)
	pendingFn func(ctx context.Context, userID int64) ([]models.TransferSummary, error)
	detailFn  func(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error)
}

func (m *mockQuerier) ListForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockQuerier) ListPendingRequestsForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
	if m.pendingFn != nil {
		return m.pendingFn(ctx, userID)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockQuerier) GetDetail(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error) {
	if m.detailFn != nil {
		return m.detailFn(ctx, transferID, requestingUserID)
	}
	return nil, fmt.Errorf("not configured")
}

type mockAccounts struct {
	getFn func(ctx context.Context, userID int64) (*models.Account, error)
}

func (m *mockAccounts) GetAccountByUser(ctx context.Context, userID int64) (*models.Account, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, fmt.Errorf("not configured")
}

type mockAuth struct {
	resolveFn func(ctx context.Context, creds auth.Credentials) (*auth.Caller, error)
	userID    int64
}

func (m *mockAuth) ResolveCaller(ctx context.Context, creds auth.Credentials) (*auth.Caller, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, creds)
	}
	return nil, fmt.Errorf("not configured")
}
func (m *mockAuth) VerifyToken(token string) (int64, error) {
	if token == "good" {
		return m.userID, nil
	}
	return 0, auth.ErrInvalidToken
}

// ---- helpers ----

func newTestRouter(l *mockLedger, q *mockQuerier, a *mockAccounts, userID int64) http.Handler {
	return api.NewHandler(l, q, a, &mockAuth{userID: userID}, zap.NewNop()).Routes()
}

func doRequest(t *testing.T, router http.Handler, method, url, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sendBody(counterparty int64, amount string) map[string]any {
	return map[string]any{"counterparty_user_id": counterparty, "amount": amount}
}

// ---- tests ----

func TestLoginHandler(t *testing.T) {
	router := newTestRouter(&mockLedger{}, &mockQuerier{}, &mockAccounts{}, 0)

	t.Run("success", func(t *testing.T) {
		l := &mockLedger{}
		a := &mockAuth{
			resolveFn: func(ctx context.Context, creds auth.Credentials) (*auth.Caller, error) {
				assert.Equal(t, "alice", creds.Username)
				return &auth.Caller{UserID: 10, Username: "alice", Token: "tok"}, nil
			},
		}
		router := api.NewHandler(l, &mockQuerier{}, &mockAccounts{}, a, zap.NewNop()).Routes()

		w := doRequest(t, router, "POST", "/api/v1/login", "",
			map[string]string{"username": "alice", "password": "pw"})
		require.Equal(t, http.StatusOK, w.Code)

		var caller auth.Caller
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caller))
		assert.Equal(t, "tok", caller.Token)
	})

	t.Run("bad credentials", func(t *testing.T) {
		a := &mockAuth{
			resolveFn: func(ctx context.Context, creds auth.Credentials) (*auth.Caller, error) {
				return nil, auth.ErrInvalidCredentials
			},
		}
		router := api.NewHandler(&mockLedger{}, &mockQuerier{}, &mockAccounts{}, a, zap.NewNop()).Routes()

		w := doRequest(t, router, "POST", "/api/v1/login", "",
			map[string]string{"username": "alice", "password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/login", bytes.NewReader([]byte("{")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthentication(t *testing.T) {
	router := newTestRouter(&mockLedger{}, &mockQuerier{}, &mockAccounts{}, 10)

	t.Run("missing token", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/api/v1/transfers", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/api/v1/transfers", "bad", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSendHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		l := &mockLedger{
			sendFn: func(ctx context.Context, from, to int64, amount decimal.Decimal) (int64, error) {
				assert.Equal(t, int64(10), from)
				assert.Equal(t, int64(20), to)
				assert.True(t, amount.Equal(decimal.RequireFromString("30.00")))
				return 77, nil
			},
		}
		router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

		w := doRequest(t, router, "POST", "/api/v1/transfers/send", "good", sendBody(20, "30.00"))
		require.Equal(t, http.StatusCreated, w.Code)

		var result models.TransferResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Equal(t, int64(77), result.TransferID)
		assert.Empty(t, result.ErrorKind)
	})

	t.Run("malformed body", func(t *testing.T) {
		router := newTestRouter(&mockLedger{}, &mockQuerier{}, &mockAccounts{}, 10)
		req := httptest.NewRequest("POST", "/api/v1/transfers/send", bytes.NewReader([]byte("{")))
		req.Header.Set("Authorization", "Bearer good")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"account not found", ledger.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
		{"self transfer", ledger.ErrSelfTransfer, http.StatusUnprocessableEntity, "self_transfer"},
		{"invalid amount", ledger.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
		{"insufficient funds", ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"contention timeout", ledger.ErrContentionTimeout, http.StatusServiceUnavailable, "contention_timeout"},
		{"persistence failure", ledger.ErrPersistenceFailure, http.StatusInternalServerError, "persistence_failure"},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			l := &mockLedger{
				sendFn: func(ctx context.Context, from, to int64, amount decimal.Decimal) (int64, error) {
					return 0, tt.err
				},
			}
			router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

			w := doRequest(t, router, "POST", "/api/v1/transfers/send", "good", sendBody(20, "30.00"))
			require.Equal(t, tt.wantStatus, w.Code)

			var result models.TransferResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
			assert.NotEmpty(t, result.ErrorMessage)
		})
	}
}

func TestRequestHandler(t *testing.T) {
	// The caller is the payee; the counterparty is asked to pay.
	l := &mockLedger{
		requestFn: func(ctx context.Context, from, to int64, amount decimal.Decimal) (int64, error) {
			assert.Equal(t, int64(20), from)
			assert.Equal(t, int64(10), to)
			return 88, nil
		},
	}
	router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

	w := doRequest(t, router, "POST", "/api/v1/transfers/request", "good", sendBody(20, "15.00"))
	require.Equal(t, http.StatusCreated, w.Code)

	var result models.TransferResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(88), result.TransferID)
}

func TestApproveAndRejectHandlers(t *testing.T) {
	t.Run("approve success", func(t *testing.T) {
		l := &mockLedger{
			approveFn: func(ctx context.Context, transferID, actingUserID int64) error {
				assert.Equal(t, int64(55), transferID)
				assert.Equal(t, int64(10), actingUserID)
				return nil
			},
		}
		router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

		w := doRequest(t, router, "POST", "/api/v1/transfers/55/approve", "good", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("reject non-pending", func(t *testing.T) {
		l := &mockLedger{
			rejectFn: func(ctx context.Context, transferID, actingUserID int64) error {
				return ledger.ErrInvalidState
			},
		}
		router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

		w := doRequest(t, router, "POST", "/api/v1/transfers/55/reject", "good", nil)
		require.Equal(t, http.StatusConflict, w.Code)

		var result models.TransferResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "invalid_state", result.ErrorKind)
	})

	t.Run("approve by non-payer", func(t *testing.T) {
		l := &mockLedger{
			approveFn: func(ctx context.Context, transferID, actingUserID int64) error {
				return ledger.ErrForbidden
			},
		}
		router := newTestRouter(l, &mockQuerier{}, &mockAccounts{}, 10)

		w := doRequest(t, router, "POST", "/api/v1/transfers/55/approve", "good", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestListAndDetailHandlers(t *testing.T) {
	summary := models.TransferSummary{
		Transfer:     models.Transfer{ID: 1, Amount: decimal.RequireFromString("5.00")},
		Counterparty: "bob",
		Direction:    models.DirectionSent,
	}

	t.Run("list", func(t *testing.T) {
		q := &mockQuerier{
			listFn: func(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
				assert.Equal(t, int64(10), userID)
				return []models.TransferSummary{summary}, nil
			},
		}
		router := newTestRouter(&mockLedger{}, q, &mockAccounts{}, 10)

		w := doRequest(t, router, "GET", "/api/v1/transfers", "good", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got []models.TransferSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "bob", got[0].Counterparty)
	})

	t.Run("pending", func(t *testing.T) {
		q := &mockQuerier{
			pendingFn: func(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
				return []models.TransferSummary{}, nil
			},
		}
		router := newTestRouter(&mockLedger{}, q, &mockAccounts{}, 10)

		w := doRequest(t, router, "GET", "/api/v1/transfers/pending", "good", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("detail forbidden", func(t *testing.T) {
		q := &mockQuerier{
			detailFn: func(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error) {
				return nil, ledger.ErrForbidden
			},
		}
		router := newTestRouter(&mockLedger{}, q, &mockAccounts{}, 10)

		w := doRequest(t, router, "GET", "/api/v1/transfers/9", "good", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("detail not found", func(t *testing.T) {
		q := &mockQuerier{
			detailFn: func(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error) {
				return nil, ledger.ErrTransferNotFound
			},
		}
		router := newTestRouter(&mockLedger{}, q, &mockAccounts{}, 10)

		w := doRequest(t, router, "GET", "/api/v1/transfers/9", "good", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetBalanceHandler(t *testing.T) {
	a := &mockAccounts{
		getFn: func(ctx context.Context, userID int64) (*models.Account, error) {
			assert.Equal(t, int64(10), userID)
			return &models.Account{ID: 3, UserID: 10, Balance: decimal.RequireFromString("70.00")}, nil
		},
	}
	router := newTestRouter(&mockLedger{}, &mockQuerier{}, a, 10)

	w := doRequest(t, router, "GET", "/api/v1/account/balance", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["account_id"])
	assert.Equal(t, "70", body["balance"])
}
