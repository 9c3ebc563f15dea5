package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	appcatalog "github.com/Zhima-Mochi/keyshop/internal/application/catalog"
	appinventory "github.com/Zhima-Mochi/keyshop/internal/application/inventory"
	apppurchase "github.com/Zhima-Mochi/keyshop/internal/application/purchase"
	appsupport "github.com/Zhima-Mochi/keyshop/internal/application/support"
	"github.com/Zhima-Mochi/keyshop/internal/domain/access"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID       = "admin-1"
	webhookSecret = "s3cret-token"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("inv%03d", g.n.Add(1)) }

type failingSaver struct{}

func (failingSaver) Save(context.Context) error { return errors.New("disk full") }

func newTestServer(t *testing.T, saver application.SnapshotSaver) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	selection := memory.NewSelectionTracker()
	history := memory.NewHistoryLog()

	uc := UseCases{
		SelectProduct:   apppurchase.NewSelectProductUseCase(store, store, selection, nil),
		IssueInvoice:    apppurchase.NewIssueInvoiceUseCase(store, store, selection, &seqIDs{}, apppurchase.Options{}, nil),
		PreCheckout:     apppurchase.NewValidatePreCheckoutUseCase(store, nil),
		CreateProduct:   appcatalog.NewCreateProductUseCase(store, saver, nil),
		RemoveProduct:   appcatalog.NewRemoveProductUseCase(store, saver, nil),
		ListProducts:    appcatalog.NewListProductsUseCase(store, store, nil),
		AppendKeys:      appinventory.NewAppendKeysUseCase(store, saver, nil, nil),
		StockReport:     appinventory.NewStockReportUseCase(store, nil),
		Settle:          apppurchase.NewSettleUseCase(store, history, saver, nil, nil),
		PurchaseHistory: appsupport.NewPurchaseHistoryUseCase(history, "@keyshop_support", nil),
	}

	h := NewHandler(uc, access.NewStaticPolicy(adminID), webhookSecret, nil, nil, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()
	return doWithSecret(t, srv, webhookSecret, method, path, user, body)
}

func doWithSecret(t *testing.T, srv *httptest.Server, secret, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if secret != "" {
		req.Header.Set(headerWebhookSecret, secret)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func seed(t *testing.T, srv *httptest.Server, name string, price int64, keys ...string) {
	t.Helper()
	resp, _ := do(t, srv, http.MethodPost, "/admin/products", adminID, map[string]any{"name": name, "description": "d", "price": price})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	if len(keys) > 0 {
		resp, _ = do(t, srv, http.MethodPost, "/admin/products/"+name+"/keys", adminID, map[string]any{"keys": keys})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500, "A", "B", "C")

	resp, body := do(t, srv, http.MethodPost, "/events/product-chosen", "", map[string]any{"user_id": "u1", "product": "gift10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["available"])
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	resp, body = do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u1", "quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1000, body["total"])
	payload, _ := body["payload"].(string)
	require.NotEmpty(t, payload)

	resp, body = do(t, srv, http.MethodPost, "/events/pre-checkout", "", map[string]any{"query_id": "q1", "payload": payload})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "q1", body["query_id"])

	resp, body = do(t, srv, http.MethodPost, "/events/payment-settled", "", map[string]any{"user_id": "u1", "payload": payload, "charge_id": "ch_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["status"])
	assert.Equal(t, []any{"A", "B"}, body["keys"])
	assert.Equal(t, "Thank you for your purchase! Your card keys are:\nA\nB\nCharge ID: ch_1", body["message"])
	assert.Equal(t, true, body["persisted"])

	resp, body = do(t, srv, http.MethodGet, "/support/u1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"ch_1"}, body["charge_ids"])
	assert.Contains(t, body["message"], "order id: ch_1")
	assert.Contains(t, body["message"], "@keyshop_support")
}

func TestQuantityAboveStockReturnsConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500, "A")

	resp, body := do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u1", "product": "gift10", "quantity": 4})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.EqualValues(t, 1, body["available"])
	assert.EqualValues(t, 4, body["requested"])
}

func TestQuantityWithoutSelection(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u1", "quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPreCheckoutRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, srv, http.MethodPost, "/events/pre-checkout", "", map[string]any{"payload": "garbage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error_message"])
}

func TestSettleOutOfStockMessage(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500, "A")

	_, body := do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u1", "product": "gift10", "quantity": 1})
	payload := body["payload"].(string)

	// A second buyer drains the pool first.
	_, body = do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u2", "product": "gift10", "quantity": 1})
	resp, _ := do(t, srv, http.MethodPost, "/events/payment-settled", "", map[string]any{"user_id": "u2", "payload": body["payload"], "charge_id": "ch_2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/events/payment-settled", "", map[string]any{"user_id": "u1", "payload": payload, "charge_id": "ch_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled_out_of_stock", body["status"])
	assert.Equal(t, []any{}, body["keys"])
	assert.Equal(t, "Sorry, 'gift10' is out of stock.\nCharge ID: ch_1", body["message"])
}

func TestSettleStillAnswersWhenSaveFails(t *testing.T) {
	srv := newTestServer(t, failingSaver{})
	seed(t, srv, "gift10", 500, "A")

	_, body := do(t, srv, http.MethodPost, "/events/quantity-chosen", "", map[string]any{"user_id": "u1", "product": "gift10", "quantity": 1})
	resp, body := do(t, srv, http.MethodPost, "/events/payment-settled", "", map[string]any{"user_id": "u1", "payload": body["payload"], "charge_id": "ch_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"A"}, body["keys"])
	assert.Equal(t, false, body["persisted"])
}

func TestAdminChangesSurviveSaveFailure(t *testing.T) {
	srv := newTestServer(t, failingSaver{})

	resp, body := do(t, srv, http.MethodPost, "/admin/products", adminID, map[string]any{"name": "gift10", "price": 500})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "gift10", body["name"])
	assert.Equal(t, false, body["persisted"])

	resp, _ = do(t, srv, http.MethodPost, "/admin/products", adminID, map[string]any{"name": "gift10", "price": 500})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "the retry matches what the first answer said")

	resp, body = do(t, srv, http.MethodPost, "/admin/products/gift10/keys", adminID, map[string]any{"keys": []string{"K1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["available"])
	assert.Equal(t, false, body["persisted"])

	resp, body = do(t, srv, http.MethodDelete, "/admin/products/gift10", adminID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["persisted"])

	resp, _ = do(t, srv, http.MethodDelete, "/admin/products/gift10", adminID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := do(t, srv, http.MethodPost, "/admin/products", "u1", map[string]any{"name": "x", "price": 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/admin/inventory", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCatalogErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500)

	resp, _ := do(t, srv, http.MethodPost, "/admin/products", adminID, map[string]any{"name": "gift10", "price": 500})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/admin/products", adminID, map[string]any{"name": "free", "price": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/admin/products/ghost/keys", adminID, map[string]any{"keys": []string{"K"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/admin/products/gift10/keys", adminID, map[string]any{"text": "\n \n"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/admin/products/gift10", adminID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/admin/products/gift10", adminID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAppendKeysFromTextAndReport(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500)

	resp, body := do(t, srv, http.MethodPost, "/admin/products/gift10/keys", adminID, map[string]any{"text": "K1\nK2\r\n\nK3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["persisted"])
	assert.EqualValues(t, 3, body["added"])
	assert.EqualValues(t, 3, body["available"])

	resp, body = do(t, srv, http.MethodGet, "/admin/inventory", adminID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{map[string]any{"product": "gift10", "available": float64(3)}}, body["inventory"])

	resp, body = do(t, srv, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := body["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "gift10", products[0].(map[string]any)["name"])
}

func TestSupportIsPrivate(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := do(t, srv, http.MethodGet, "/support/u1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/support/u1", adminID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["message"], "we found no transaction")
}

func TestRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := do(t, srv, http.MethodPost, "/events/product-chosen", "", map[string]any{"user_id": "u1", "product": "x", "extra": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookSecretIsRequired(t *testing.T) {
	srv := newTestServer(t, nil)
	seed(t, srv, "gift10", 500, "K1", "K2")

	forged := map[string]any{"user_id": "attacker", "payload": "kv1:x:6:gift10:2", "charge_id": "fake"}
	for _, secret := range []string{"", "wrong", webhookSecret + "x"} {
		resp, body := doWithSecret(t, srv, secret, http.MethodPost, "/events/payment-settled", "", forged)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret %q", secret)
		assert.Nil(t, body["keys"])

		resp, _ = doWithSecret(t, srv, secret, http.MethodPost, "/admin/products", adminID, map[string]any{"name": "x", "price": 1})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret %q", secret)

		resp, _ = doWithSecret(t, srv, secret, http.MethodGet, "/products", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret %q", secret)
	}

	_, body := do(t, srv, http.MethodGet, "/admin/inventory", adminID, nil)
	assert.Equal(t, []any{map[string]any{"product": "gift10", "available": float64(2)}}, body["inventory"], "no key left the pool")

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")
}

func TestEmptyWebhookSecretRejectsEverything(t *testing.T) {
	h := NewHandler(UseCases{}, nil, "", nil, nil, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	resp, _ := doWithSecret(t, srv, "", http.MethodPost, "/events/product-chosen", "", map[string]any{"user_id": "u1", "product": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
