package api

import (
	"net/http"

	"github.com/example/watch-shop/internal/api/middleware"
	"github.com/example/watch-shop/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handlers *Handlers, jwtService *auth.JWTService, webDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	// Public
	r.Get("/health", handlers.Health)
	r.Get("/products/{id}", handlers.GetProduct)
	r.Get("/order-statuses", handlers.GetOrderStatuses)

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", handlers.GetCart)
			r.Delete("/", handlers.ClearCart)
			r.Post("/items", handlers.AddToCart)
			r.Put("/items/{productID}", handlers.SetQuantity)
			r.Delete("/items/{productID}", handlers.RemoveFromCart)
			r.Post("/refresh", handlers.RefreshCart)
		})

		r.Post("/checkout", handlers.Checkout)
		r.Post("/logout", handlers.Logout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", handlers.GetOrders)
			r.Post("/checkout", handlers.PlaceOrder)
			r.Get("/{id}", handlers.GetOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Get("/orders", handlers.GetAllOrders)
			r.Patch("/orders/{id}/status", handlers.UpdateOrderStatus)
		})
	})

	// Static files (web UI)
	if webDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(webDir)))
	}

	return r
}
