package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/cache"
	"github.com/GrowPals/cartsync/internal/domain"
	"github.com/GrowPals/cartsync/internal/repository"
	"github.com/GrowPals/cartsync/internal/service"
)

// stubRepository answers remote store calls from an in-memory cart and
// an optional scripted error.
type stubRepository struct {
	mu        sync.Mutex
	cart      *domain.Cart
	upsertErr error
}

func (s *stubRepository) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return nil, repository.ErrCartNotFound
	}
	return s.cart.Clone(), nil
}

func (s *stubRepository) UpsertItem(_ context.Context, ownerID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertErr
}

func (s *stubRepository) RemoveItem(_ context.Context, ownerID, productID string) error {
	return nil
}

func (s *stubRepository) ClearCart(_ context.Context, ownerID string) error {
	return nil
}

func newTestServer(repo repository.CartRepository) *httptest.Server {
	svc := service.NewCartService(repo, cache.NewMemoryCache(time.Hour), nil, zap.NewNop(), service.Config{
		RetryInitialInterval: time.Millisecond,
	})
	h := NewCartHandler(svc, 5*time.Second, zap.NewNop())
	return httptest.NewServer(NewRouter(h))
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, owner string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeCart(t *testing.T, resp *http.Response) CartResponseDTO {
	t.Helper()
	defer resp.Body.Close()
	var dto CartResponseDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	return dto
}

func TestAddItem_Success(t *testing.T) {
	srv := newTestServer(&stubRepository{})
	defer srv.Close()

	body := []byte(`{"product_id":"prod-a","name":"Hammer","unit_price":10.00,"quantity":2}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/cart/items", "owner-1", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeCart(t, resp)
	require.Len(t, dto.Cart.Items, 1)
	assert.Equal(t, 2, dto.Cart.Items[0].Quantity)
	assert.InDelta(t, 20.00, dto.Totals.Subtotal, 1e-9)
	assert.InDelta(t, 3.20, dto.Totals.Tax, 1e-9)
	assert.InDelta(t, 23.20, dto.Totals.GrandTotal, 1e-9)
}

func TestAddItem_MissingOwnerIs401(t *testing.T) {
	srv := newTestServer(&stubRepository{})
	defer srv.Close()

	body := []byte(`{"product_id":"prod-a","quantity":1}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/cart/items", "", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAddItem_InvalidBodyIs400(t *testing.T) {
	srv := newTestServer(&stubRepository{})
	defer srv.Close()

	for _, body := range []string{
		`not json`,
		`{"quantity":1}`,
		`{"product_id":"prod-a","quantity":0}`,
		`{"product_id":"prod-a","quantity":100}`,
	} {
		resp := doRequest(t, srv, http.MethodPost, "/api/v1/cart/items", "owner-1", []byte(body))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", body)
	}
}

func TestAddItem_UnavailableProductIs410(t *testing.T) {
	srv := newTestServer(&stubRepository{upsertErr: repository.ErrItemUnavailable})
	defer srv.Close()

	body := []byte(`{"product_id":"prod-gone","quantity":1}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/cart/items", "owner-1", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "item_unavailable", errResp.Code)
}

func TestGetCart_EmptyCart(t *testing.T) {
	srv := newTestServer(&stubRepository{})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/cart", "owner-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeCart(t, resp)
	assert.Empty(t, dto.Cart.Items)
	assert.Zero(t, dto.Totals.GrandTotal)
}

func TestUpdateQuantity_ZeroRemovesLine(t *testing.T) {
	repo := &stubRepository{cart: domain.Empty("owner-1")}
	repo.cart.Upsert(domain.CartItem{ProductID: "prod-a", Quantity: 3, UnitPrice: 5.00})
	srv := newTestServer(repo)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPut, "/api/v1/cart/items/prod-a", "owner-1", []byte(`{"quantity":0}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeCart(t, resp)
	assert.Empty(t, dto.Cart.Items)
}

func TestClearCart(t *testing.T) {
	repo := &stubRepository{cart: domain.Empty("owner-1")}
	repo.cart.Upsert(domain.CartItem{ProductID: "prod-a", Quantity: 3, UnitPrice: 5.00})
	srv := newTestServer(repo)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodDelete, "/api/v1/cart", "owner-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeCart(t, resp)
	assert.Empty(t, dto.Cart.Items)
	assert.Zero(t, dto.Totals.TotalItems)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubRepository{})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
