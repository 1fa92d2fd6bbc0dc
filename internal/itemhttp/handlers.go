// Package itemhttp serves the /api/v1/items CRUD surface.
package itemhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quickapi/quickapi/internal/log"
	"github.com/quickapi/quickapi/internal/store"
)

// OpCounter receives one event per repository call, labeled by operation.
type OpCounter interface {
	IncItemOp(op string, err error)
}

type nopCounter struct{}

func (nopCounter) IncItemOp(string, error) {}

type Handler struct {
	repo    *store.ItemRepo
	metrics OpCounter
}

func NewHandler(repo *store.ItemRepo, m OpCounter) *Handler {
	if m == nil {
		m = nopCounter{}
	}
	return &Handler{repo: repo, metrics: m}
}

// Routes mounts the CRUD endpoints on a fresh sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	return r
}

// itemPayload is the request body for create and update.
type itemPayload struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

func (p *itemPayload) validate() string {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return "name is required"
	case len(p.Name) > store.MaxNameLength:
		return "name must be at most " + strconv.Itoa(store.MaxNameLength) + " characters"
	case p.Price < 0:
		return "price must not be negative"
	}
	return ""
}

// listResponse pages items along with the total match count.
type listResponse struct {
	Data  []store.Item `json:"data"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	var minSet, maxSet bool
	if s := q.Get("min_price"); s != "" {
		f.MinPrice, _ = strconv.ParseFloat(s, 64)
		minSet = true
	}
	if s := q.Get("max_price"); s != "" {
		f.MaxPrice, _ = strconv.ParseFloat(s, 64)
		maxSet = true
	}
	if minSet && maxSet && f.MinPrice > f.MaxPrice {
		writeError(w, http.StatusUnprocessableEntity, "min_price cannot exceed max_price")
		return
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	items, total, err := h.repo.List(r.Context(), f)
	h.metrics.IncItemOp("list", err)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "list items failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if items == nil {
		items = []store.Item{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: items, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var p itemPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	item := &store.Item{Name: p.Name, Description: p.Description, Price: p.Price}
	err := h.repo.Create(r.Context(), item)
	h.metrics.IncItemOp("create", err)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "create item failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.repo.Get(r.Context(), id)
	h.metrics.IncItemOp("get", ignoreNotFound(err))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "get item failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p itemPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	item := &store.Item{ID: id, Name: p.Name, Description: p.Description, Price: p.Price}
	err := h.repo.Update(r.Context(), item)
	h.metrics.IncItemOp("update", ignoreNotFound(err))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "update item failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	got, err := h.repo.Get(r.Context(), id)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "reload item failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.repo.Delete(r.Context(), id)
	h.metrics.IncItemOp("delete", ignoreNotFound(err))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "delete item failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusUnprocessableEntity, "invalid item id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
