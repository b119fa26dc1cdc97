package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/delivery-system/internal/middleware"
	"github.com/mmeshcher/delivery-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доставки.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/api/deliveries", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		// Маршруты ролей управления логистикой.
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRoles(model.ManagementRoles...))

			r.Get("/pending", h.GetPendingDeliveries)
			r.Post("/{order}/assign", h.AssignDelivery)
			r.Get("/live/map", h.GetLiveMap)
		})

		// Маршруты курьера.
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRoles(model.RoleDelivery))

			r.Get("/my", h.GetMyDeliveries)
			r.Get("/history", h.GetDeliveryHistory)
			r.Put("/{order}/status", h.UpdateStatus)
			r.Post("/{order}/proof", h.UploadProof)
		})

		// Просмотр подтверждения доступен курьеру и ролям управления,
		// проверка владения выполняется в сервисе.
		r.Group(func(r chi.Router) {
			roles := append([]model.Role{model.RoleDelivery}, model.ManagementRoles...)
			r.Use(custommiddleware.RequireRoles(roles...))

			r.Get("/{order}/proof", h.GetProof)
		})

		// Позицию может сообщать любой аутентифицированный пользователь,
		// запись всегда ведётся под его собственным идентификатором.
		r.Post("/location", h.UpdateLocation)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	return r
}
