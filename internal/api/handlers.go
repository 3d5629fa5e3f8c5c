package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/example/watch-shop/internal/api/middleware"
	"github.com/example/watch-shop/internal/auth"
	"github.com/example/watch-shop/internal/checkout"
	"github.com/example/watch-shop/internal/domain/cart"
	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/domain/order"
	"github.com/example/watch-shop/internal/domain/stock"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/example/watch-shop/internal/lifecycle"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Products is the catalog lookup the handlers need
type Products interface {
	GetByID(ctx context.Context, id string) (*catalog.Product, error)
}

type Handlers struct {
	carts     *cart.Registry
	products  Products
	checkout  *checkout.Process
	orders    *order.Service
	lifecycle *lifecycle.Lifecycle
}

func NewHandlers(carts *cart.Registry, products Products, process *checkout.Process, orders *order.Service, lc *lifecycle.Lifecycle) *Handlers {
	return &Handlers{
		carts:     carts,
		products:  products,
		checkout:  process,
		orders:    orders,
		lifecycle: lc,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Product Handlers

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// Cart Handlers

type lineView struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type problemView struct {
	cart.Problem
	Message string `json:"message"`
}

type cartView struct {
	CartID     string          `json:"cart_id"`
	Lines      []lineView      `json:"lines"`
	Count      int             `json:"count"`
	Total      decimal.Decimal `json:"total"`
	Quote      checkout.Quote  `json:"quote"`
	Eligible   bool            `json:"eligible"`
	Problems   []problemView   `json:"problems"`
	Submitting bool            `json:"submitting"`
}

func (h *Handlers) viewCart(c *cart.Store) cartView {
	lines := c.Snapshot()
	view := cartView{
		CartID:     c.ID(),
		Lines:      make([]lineView, 0, len(lines)),
		Count:      c.Count(),
		Total:      c.Total(),
		Quote:      h.checkout.Quote(c),
		Eligible:   c.IsCheckoutEligible(),
		Problems:   []problemView{},
		Submitting: h.checkout.IsSubmitting(c),
	}
	for _, l := range lines {
		view.Lines = append(view.Lines, lineView{Product: l.Product, Quantity: l.Quantity, Subtotal: l.Subtotal()})
	}
	for _, p := range c.Problems() {
		view.Problems = append(view.Problems, problemView{Problem: p, Message: p.String()})
	}
	return view
}

// callerCart returns the authenticated caller's cart. It writes the error
// response itself and returns nil when there is none.
func (h *Handlers) callerCart(w http.ResponseWriter, r *http.Request) *cart.Store {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, checkout.ErrNotAuthenticated)
		return nil
	}
	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		log.Printf("[API] Failed to load cart for user %s: %v", userID, err)
		respondError(w, err)
		return nil
	}
	return c
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	respondJSON(w, http.StatusOK, h.viewCart(c))
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		respondError(w, cart.ErrInvalidProduct)
		return
	}

	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	product, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := c.Add(r.Context(), *product); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.viewCart(c))
}

func (h *Handlers) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	adj, err := c.SetQuantity(r.Context(), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"adjustment": adj,
		"cart":       h.viewCart(c),
	})
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	if err := c.Remove(r.Context(), chi.URLParam(r, "productID")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewCart(c))
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewCart(c))
}

func (h *Handlers) RefreshCart(w http.ResponseWriter, r *http.Request) {
	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	if err := c.RefreshStock(r.Context(), h.products); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewCart(c))
}

// Checkout Handlers

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var ship checkout.Shipping
	if err := json.NewDecoder(r.Body).Decode(&ship); err != nil {
		respondErrorMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c := h.callerCart(w, r)
	if c == nil {
		return
	}

	identity := checkout.Identity{}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		identity = checkout.Identity{UserID: claims.UserID, Email: claims.Email}
	}

	conf, err := h.checkout.Submit(r.Context(), c, identity, ship)
	if err != nil && conf == nil {
		respondError(w, err)
		return
	}

	body := map[string]any{"order": conf}
	if err != nil {
		// The order exists; only the cart clear failed
		log.Printf("[API] %v", err)
		body["warning"] = err.Error()
	}
	respondJSON(w, http.StatusCreated, body)
}

// Order Handlers

// PlaceOrder is the order service's checkout endpoint
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if req.UserID == "" {
		req.UserID = userID
	}
	if req.UserID != userID && !isAdmin(r) {
		respondErrorMessage(w, "forbidden", http.StatusForbidden)
		return
	}

	placed, err := h.orders.Place(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, placed)
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), order.ListFilter{UserID: middleware.GetUserID(r.Context())})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	// Authorization check: user can only access their own orders (admins can access all)
	if o.UserID != middleware.GetUserID(r.Context()) && !isAdmin(r) {
		respondErrorMessage(w, "forbidden", http.StatusForbidden)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

// Admin Handlers

type adminOrderView struct {
	*order.Order
	StatusLabel string         `json:"status_label"`
	AllowedNext []order.Status `json:"allowed_next"`
}

func (h *Handlers) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	filter := order.ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			respondError(w, err)
			return
		}
		filter.Status = status
	}

	orders, err := h.orders.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]adminOrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, adminOrderView{
			Order:       o,
			StatusLabel: lifecycle.Label(o.Status),
			AllowedNext: h.lifecycle.AllowedNext(o.Status),
		})
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	current, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	updated, err := h.lifecycle.ChangeStatus(r.Context(), current, req.Status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handlers) GetOrderStatuses(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, lifecycle.Statuses())
}

// Session Handlers

// Logout drops the caller's cart and the access token cookie
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	c := h.callerCart(w, r)
	if c == nil {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		respondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondErrorMessage(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondError maps domain errors to HTTP statuses. Order service errors
// keep their message verbatim.
func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] Internal error: %v", err)
	}
	respondErrorMessage(w, err.Error(), status)
}

func statusFor(err error) int {
	var ineligible *checkout.IneligibleError
	var serviceErr *order.ServiceError

	switch {
	case errors.Is(err, checkout.ErrConcurrentSubmission):
		return http.StatusTooManyRequests
	case errors.Is(err, checkout.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &ineligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrValidation),
		errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidRequest),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, catalog.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrStockConflict),
		errors.Is(err, stock.ErrOutOfStock),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &serviceErr):
		if serviceErr.StatusCode >= 400 && serviceErr.StatusCode < 500 {
			return serviceErr.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// isAdmin checks if the current user has admin role
func isAdmin(r *http.Request) bool {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return false
	}
	return claims.Role == auth.RoleAdmin
}
