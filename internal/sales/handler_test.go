package sales

import (
	"bytes"
	"context"
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

type memoryIdempotency struct {
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]string{}}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func saleRouter(t *testing.T, f *fixture, idem IdempotencyPort) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, f.service, idem).MountRoutes(r)
	return r
}

func postSale(t *testing.T, router chi.Router, idemKey string, cartons int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(mustSaleBody(t, cartons)))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	req = req.WithContext(shared.ContextWithRequestContext(req.Context(), rc()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSaleIdempotencyKeyReplayRejected(t *testing.T) {
	f := newFixture(t, 100)
	idem := newMemoryIdempotency()
	router := saleRouter(t, f, idem)

	first := postSale(t, router, "sale-abc-1", 1)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Len(t, f.repo.state.invoices, 1)

	replay := postSale(t, router, "sale-abc-1", 1)
	require.Equal(t, http.StatusConflict, replay.Code, replay.Body.String())
	require.Len(t, f.repo.state.invoices, 1, "replay must not create a second invoice")
}

func TestHandleSaleReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(t, 5)
	idem := newMemoryIdempotency()
	router := saleRouter(t, f, idem)

	rec := postSale(t, router, "sale-abc-2", 1)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.NotContains(t, idem.keys, "sale-abc-2", "failed submission must free the key for retry")
}

func TestHandleSaleWithoutIdempotencyKey(t *testing.T) {
	f := newFixture(t, 100)
	idem := newMemoryIdempotency()
	router := saleRouter(t, f, idem)

	rec := postSale(t, router, "", 1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Empty(t, idem.keys)
}

func mustSaleBody(t *testing.T, cartons int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"warehouse_id": 1,
		"lines":        []map[string]any{{"product_id": 1, "unit_id": "carton", "quantity": cartons}},
		"tendered":     "50",
		"method":       "cash",
	})
	require.NoError(t, err)
	return body
}
