package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
	_ "github.com/tradewind-erp/tradewind/testing"
)

func postManualJournal(t *testing.T, lines []map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// No repository or engine behind the handler: a request that reaches
	// persistence would panic, so these tests also pin the rejection order.
	h := NewHandler(logger, nil, nil, nil)
	router := chi.NewRouter()
	h.MountRoutes(router)

	body, err := json.Marshal(map[string]any{"memo": "correction", "lines": lines})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/journals", bytes.NewReader(body))
	rc := shared.RequestContext{CompanyID: 1, UserID: 2, Role: "accountant"}
	req = req.WithContext(shared.ContextWithRequestContext(req.Context(), rc))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestManualJournalUnbalancedRejectedBeforePersisting(t *testing.T) {
	rec := postManualJournal(t, []map[string]any{
		{"account_id": 1, "debit": "10"},
		{"account_id": 2, "credit": "7"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestManualJournalMixedLineRejected(t *testing.T) {
	rec := postManualJournal(t, []map[string]any{
		{"account_id": 1, "debit": "10", "credit": "10"},
		{"account_id": 2, "credit": "10"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}
