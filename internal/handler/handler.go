// Package handler содержит HTTP-обработчики API сервиса доставки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/delivery-system/internal/metrics"
	"github.com/mmeshcher/delivery-system/internal/middleware"
	"github.com/mmeshcher/delivery-system/internal/model"
	"github.com/mmeshcher/delivery-system/internal/repository"
	"github.com/mmeshcher/delivery-system/internal/service"
)

const maxProofSize = 10 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, name, password string, role model.Role) (int64, model.Role, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	PendingDeliveries(ctx context.Context) ([]model.Order, error)
	AssignDelivery(ctx context.Context, orderID, courierID int64) (*model.Order, *model.User, error)
	MyDeliveries(ctx context.Context, courierID int64) ([]model.Order, error)
	DeliveryHistory(ctx context.Context, courierID int64) ([]model.Order, error)
	UpdateDeliveryStatus(ctx context.Context, courierID, orderID int64, status model.OrderStatus) (*model.Order, error)
	UpdateLocation(ctx context.Context, userID int64, latitude, longitude float64) error
	LiveLocations(ctx context.Context) ([]model.Geolocation, error)
	UploadProof(ctx context.Context, courierID, orderID int64, kind model.ProofKind, src io.Reader) error
	GetProof(ctx context.Context, userID int64, role model.Role, orderID int64) (io.ReadCloser, model.ProofKind, error)
}

// Handler реализует HTTP-обработчики API сервиса доставки.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: message})
}

func writeValidationError(w http.ResponseWriter, fields map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: "The given data was invalid.", Errors: fields})
}

type orderResponse struct {
	ID             int64   `json:"id"`
	Status         string  `json:"status"`
	DeliveryUserID *int64  `json:"delivery_user_id"`
	ProofType      *string `json:"proof_type,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Status:         string(o.Status),
		DeliveryUserID: o.DeliveryUserID,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      o.UpdatedAt.Format(time.RFC3339),
	}
	if o.ProofType != nil {
		v := string(*o.ProofType)
		resp.ProofType = &v
	}
	return resp
}

func toOrderResponses(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	return resp
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*middleware.Principal, bool) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated.")
		return nil, false
	}
	return p, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "order"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Order not found.")
		return 0, false
	}
	return id, true
}

type registerRequest struct {
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

type tokenResponse struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
	Role  string `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	fields := map[string][]string{}
	if req.Email == "" {
		fields["email"] = []string{"The email field is required."}
	}
	if req.Password == "" {
		fields["password"] = []string{"The password field is required."}
	}
	if req.Role != "" && !model.IsSelfRegisterRole(req.Role) {
		fields["role"] = []string{"The selected role is invalid."}
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	id, role, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "Email already taken.")
			return
		}
		if errors.Is(err, service.ErrRoleNotAllowed) {
			writeValidationError(w, map[string][]string{
				"role": {"The selected role is invalid."},
			})
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("register").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	token, err := h.authMiddleware.IssueToken(id, role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusCreated, "User registered successfully", tokenResponse{
		Token: token,
		ID:    id,
		Role:  string(role),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выпускает bearer-токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials.")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("login").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	token, err := h.authMiddleware.IssueToken(u.ID, u.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, "Login successful", tokenResponse{
		Token: token,
		ID:    u.ID,
		Role:  string(u.Role),
	})
}

// GetPendingDeliveries возвращает заказы, готовые к назначению курьеру.
func (h *Handler) GetPendingDeliveries(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.PendingDeliveries(r.Context())
	if err != nil {
		h.logger.Error("pending deliveries error", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("pending").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, "Pending orders retrieved successfully", toOrderResponses(orders))
}

type assignRequest struct {
	DeliveryUserID *int64 `json:"delivery_user_id"`
}

// AssignDelivery назначает заказ курьеру.
func (h *Handler) AssignDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if req.DeliveryUserID == nil {
		writeValidationError(w, map[string][]string{
			"delivery_user_id": {"The delivery_user_id field is required."},
		})
		return
	}

	order, courier, err := h.service.AssignDelivery(r.Context(), orderID, *req.DeliveryUserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCourier):
			writeError(w, http.StatusNotFound, "Invalid delivery user ID or role.")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found.")
		case errors.Is(err, repository.ErrOrderAlreadyAssigned):
			writeError(w, http.StatusConflict, "Order is already assigned to a delivery person.")
		default:
			h.logger.Error("assign delivery error", zap.Error(err), zap.Int64("orderID", orderID))
			metrics.OperationErrorsTotal.WithLabelValues("assign").Inc()
			writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}

	message := fmt.Sprintf("Order %d assigned to delivery user %s successfully", order.ID, courier.Name)
	writeJSON(w, http.StatusOK, message, toOrderResponse(*order))
}

// GetMyDeliveries возвращает активные заказы текущего курьера.
func (h *Handler) GetMyDeliveries(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.MyDeliveries(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("my deliveries error", zap.Error(err), zap.Int64("userID", p.UserID))
		metrics.OperationErrorsTotal.WithLabelValues("my_deliveries").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, "Assigned deliveries retrieved successfully", toOrderResponses(orders))
}

// GetDeliveryHistory возвращает завершённые заказы текущего курьера.
func (h *Handler) GetDeliveryHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.DeliveryHistory(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("delivery history error", zap.Error(err), zap.Int64("userID", p.UserID))
		metrics.OperationErrorsTotal.WithLabelValues("history").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, "Delivery history retrieved successfully", toOrderResponses(orders))
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// UpdateStatus меняет статус доставки заказа.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	order, err := h.service.UpdateDeliveryStatus(r.Context(), p.UserID, orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDeliveryStatus):
			writeValidationError(w, map[string][]string{
				"status": {"The selected status is invalid."},
			})
		case errors.Is(err, service.ErrNotAssignedCourier):
			writeError(w, http.StatusForbidden, "Access denied. Not the assigned delivery person.")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found.")
		default:
			h.logger.Error("update status error", zap.Error(err), zap.Int64("orderID", orderID))
			metrics.OperationErrorsTotal.WithLabelValues("update_status").Inc()
			writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}

	message := fmt.Sprintf("Delivery status updated to %s for order %d", order.Status, order.ID)
	writeJSON(w, http.StatusOK, message, toOrderResponse(*order))
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// UpdateLocation сохраняет текущую позицию вызывающего пользователя.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	fields := map[string][]string{}
	if req.Latitude == nil {
		fields["latitude"] = []string{"The latitude field is required."}
	}
	if req.Longitude == nil {
		fields["longitude"] = []string{"The longitude field is required."}
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	err := h.service.UpdateLocation(r.Context(), p.UserID, *req.Latitude, *req.Longitude)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCoordinates) {
			writeValidationError(w, map[string][]string{
				"latitude":  {"The coordinates are out of range."},
				"longitude": {"The coordinates are out of range."},
			})
			return
		}
		h.logger.Error("update location error", zap.Error(err), zap.Int64("userID", p.UserID))
		metrics.OperationErrorsTotal.WithLabelValues("update_location").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, "Location updated successfully", nil)
}

type geolocationUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type geolocationResponse struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	UpdatedAt string          `json:"updated_at"`
	User      geolocationUser `json:"user"`
}

// GetLiveMap возвращает текущие позиции всех курьеров.
func (h *Handler) GetLiveMap(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.LiveLocations(r.Context())
	if err != nil {
		h.logger.Error("live map error", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("live_map").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	resp := make([]geolocationResponse, 0, len(locations))
	for _, g := range locations {
		resp = append(resp, geolocationResponse{
			ID:        g.ID,
			UserID:    g.UserID,
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			UpdatedAt: g.UpdatedAt.Format(time.RFC3339),
			User: geolocationUser{
				ID:    g.UserID,
				Name:  g.UserName,
				Email: g.UserEmail,
			},
		})
	}

	writeJSON(w, http.StatusOK, "Live locations retrieved successfully", resp)
}

// UploadProof принимает файл подтверждения доставки от назначенного курьера.
func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxProofSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body.")
		return
	}

	kind := model.ProofKind(r.FormValue("proof_type"))
	if !model.IsValidProofKind(kind) {
		writeValidationError(w, map[string][]string{
			"proof_type": {"The proof_type must be image or signature."},
		})
		return
	}

	file, _, err := r.FormFile("proof")
	if err != nil {
		writeValidationError(w, map[string][]string{
			"proof": {"The proof file is required."},
		})
		return
	}
	defer file.Close()

	err = h.service.UploadProof(r.Context(), p.UserID, orderID, kind, file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAssignedCourier):
			writeError(w, http.StatusForbidden, "Access denied. Not the assigned delivery person.")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found.")
		default:
			h.logger.Error("upload proof error", zap.Error(err), zap.Int64("orderID", orderID))
			metrics.OperationErrorsTotal.WithLabelValues("upload_proof").Inc()
			writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}

	writeJSON(w, http.StatusOK, "Proof uploaded successfully", nil)
}

// GetProof возвращает сохранённое подтверждение доставки как бинарный поток.
func (h *Handler) GetProof(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	rc, kind, err := h.service.GetProof(r.Context(), p.UserID, p.Role, orderID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAssignedCourier):
			writeError(w, http.StatusForbidden, "Access denied.")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found.")
		case errors.Is(err, service.ErrProofNotUploaded):
			writeError(w, http.StatusNotFound, "Proof not uploaded.")
		default:
			h.logger.Error("get proof error", zap.Error(err), zap.Int64("orderID", orderID))
			metrics.OperationErrorsTotal.WithLabelValues("get_proof").Inc()
			writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Proof-Type", string(kind))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("stream proof error", zap.Error(err), zap.Int64("orderID", orderID))
	}
}
