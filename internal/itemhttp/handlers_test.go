package itemhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickapi/quickapi/internal/store"
)

type countingMetrics struct {
	ops map[string]int
}

func (c *countingMetrics) IncItemOp(op string, err error) {
	if c.ops == nil {
		c.ops = make(map[string]int)
	}
	c.ops[op]++
}

func newTestServer(t *testing.T) (*httptest.Server, *countingMetrics) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	m := &countingMetrics{}
	h := NewHandler(store.NewItemRepo(db), m)

	r := chi.NewRouter()
	r.Mount("/api/v1/items", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, m
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateItem(t *testing.T) {
	srv, m := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/items/", `{"name":"Widget","description":"shiny","price":9.99}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	item := decode[store.Item](t, resp)
	assert.Positive(t, item.ID)
	assert.Equal(t, "Widget", item.Name)
	assert.Equal(t, 9.99, item.Price)
	assert.Equal(t, 1, m.ops["create"])
}

func TestCreateItem_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"price":1}`},
		{"blank name", `{"name":"   ","price":1}`},
		{"name too long", fmt.Sprintf(`{"name":%q,"price":1}`, strings.Repeat("x", 121))},
		{"negative price", `{"name":"ok","price":-0.01}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/items/", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

			body := decode[map[string]any](t, resp)
			assert.EqualValues(t, 422, body["status"])
			assert.NotEmpty(t, body["message"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestCreateItem_MalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/items/", `{"name": "oops"`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/items/", `{"name":"x","price":1,"bogus":true}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetItem(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decode[store.Item](t, postJSON(t, srv.URL+"/api/v1/items/", `{"name":"Widget","price":1}`))

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/items/%d", srv.URL, created.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[store.Item](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetItem_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/items/9999")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 404, body["status"])
}

func TestGetItem_BadID(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, id := range []string{"abc", "0", "-3"} {
		resp, err := http.Get(srv.URL + "/api/v1/items/" + id)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "id=%s", id)
		resp.Body.Close()
	}
}

func TestUpdateItem(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decode[store.Item](t, postJSON(t, srv.URL+"/api/v1/items/", `{"name":"Widget","price":1}`))

	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/v1/items/%d", srv.URL, created.ID),
		bytes.NewReader([]byte(`{"name":"Gadget","price":2.5}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[store.Item](t, resp)
	assert.Equal(t, "Gadget", got.Name)
	assert.Equal(t, 2.5, got.Price)
}

func TestUpdateItem_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/items/424242",
		bytes.NewReader([]byte(`{"name":"ghost","price":1}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteItem(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decode[store.Item](t, postJSON(t, srv.URL+"/api/v1/items/", `{"name":"Widget","price":1}`))

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/v1/items/%d", srv.URL, created.ID), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// second delete is a 404
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListItems(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 15; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/items/", fmt.Sprintf(`{"name":"item %d","price":%d}`, i, i))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/v1/items/?page=2&limit=10")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[listResponse](t, resp)
	assert.EqualValues(t, 15, page.Total)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.Limit)
}

func TestListItems_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/items/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[listResponse](t, resp)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Zero(t, page.Total)
}

func TestListItems_SearchAndPriceFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, it := range []string{
		`{"name":"Red Widget","price":5}`,
		`{"name":"Blue Widget","price":15}`,
		`{"name":"Gadget","price":25}`,
	} {
		resp := postJSON(t, srv.URL+"/api/v1/items/", it)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/v1/items/?search=widget&min_price=10")
	require.NoError(t, err)
	page := decode[listResponse](t, resp)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Blue Widget", page.Data[0].Name)
}

func TestListItems_InvertedPriceBoundsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/items/?min_price=50&max_price=10")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[errorBody](t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, body.Status)
	assert.Equal(t, "min_price cannot exceed max_price", body.Message)

	// equal bounds are a valid (empty) range
	resp, err = http.Get(srv.URL + "/api/v1/items/?min_price=10&max_price=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
