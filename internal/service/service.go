// Package service реализует бизнес-логику сервиса доставки.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/delivery-system/internal/metrics"
	"github.com/mmeshcher/delivery-system/internal/model"
	"github.com/mmeshcher/delivery-system/internal/notify"
	"github.com/mmeshcher/delivery-system/internal/proofstore"
	"github.com/mmeshcher/delivery-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCourier возвращается, если указанный пользователь не курьер.
	ErrInvalidCourier = errors.New("invalid delivery user id or role")
	// ErrNotAssignedCourier возвращается, если операция доступна только назначенному курьеру.
	ErrNotAssignedCourier = errors.New("not the assigned delivery person")
	// ErrInvalidDeliveryStatus возвращается при статусе вне допустимого набора.
	ErrInvalidDeliveryStatus = errors.New("invalid delivery status")
	// ErrInvalidCoordinates возвращается при координатах вне допустимого диапазона.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrProofNotUploaded возвращается при запросе подтверждения, которое ещё не загружено.
	ErrProofNotUploaded = errors.New("proof not uploaded")
	// ErrRoleNotAllowed возвращается при попытке самостоятельной регистрации с привилегированной ролью.
	ErrRoleNotAllowed = errors.New("role not allowed for self-registration")
)

const notifyTimeout = 5 * time.Second

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email, name string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	PendingDeliveries(ctx context.Context) ([]model.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	AssignDelivery(ctx context.Context, orderID, courierID int64) (*model.Order, error)
	DeliveriesByCourier(ctx context.Context, courierID int64) ([]model.Order, error)
	DeliveryHistoryByCourier(ctx context.Context, courierID int64) ([]model.Order, error)
	UpdateDeliveryStatus(ctx context.Context, orderID int64, status model.OrderStatus) (*model.Order, error)
	UpsertLocation(ctx context.Context, userID int64, latitude, longitude float64) error
	LiveLocations(ctx context.Context) ([]model.Geolocation, error)
	SetOrderProof(ctx context.Context, orderID int64, path string, kind model.ProofKind) (*string, error)
}

// ProofStore описывает хранилище файлов подтверждения доставки.
type ProofStore interface {
	Save(orderID int64, kind model.ProofKind, src io.Reader) (string, error)
	Open(name string) (io.ReadCloser, error)
	Remove(name string) error
}

// Notifier отправляет события доставки внешним потребителям.
type Notifier interface {
	Send(ctx context.Context, e notify.Event) error
}

// Service содержит бизнес-логику сервиса доставки.
type Service struct {
	repo     Repository
	proofs   ProofStore
	notifier Notifier
}

// NewService создаёт новый сервис с указанным репозиторием, хранилищем подтверждений
// и клиентом уведомлений. Notifier может быть nil, тогда события не отправляются.
func NewService(repo Repository, proofs ProofStore, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		proofs:   proofs,
		notifier: notifier,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя. Роль по умолчанию — CUSTOMER,
// самостоятельная регистрация ограничена ролями CUSTOMER и DELIVERY.
func (s *Service) RegisterUser(ctx context.Context, email, name, password string, role model.Role) (int64, model.Role, error) {
	if role == "" {
		role = model.RoleCustomer
	}
	if !model.IsSelfRegisterRole(role) {
		return 0, "", fmt.Errorf("%w: %s", ErrRoleNotAllowed, role)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, "", fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, email, name, hashed, role)
	if err != nil {
		return 0, "", err
	}
	return id, role, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// PendingDeliveries возвращает заказы, готовые к назначению курьеру.
func (s *Service) PendingDeliveries(ctx context.Context) ([]model.Order, error) {
	return s.repo.PendingDeliveries(ctx)
}

// AssignDelivery назначает курьера на заказ. Кандидат обязан иметь роль DELIVERY.
func (s *Service) AssignDelivery(ctx context.Context, orderID, courierID int64) (*model.Order, *model.User, error) {
	courier, err := s.repo.GetUserByID(ctx, courierID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrInvalidCourier
		}
		return nil, nil, err
	}
	if courier.Role != model.RoleDelivery {
		return nil, nil, ErrInvalidCourier
	}

	order, err := s.repo.AssignDelivery(ctx, orderID, courierID)
	if err != nil {
		return nil, nil, err
	}

	metrics.DeliveriesAssignedTotal.Inc()
	s.sendEvent(notify.Event{
		Type:           notify.EventAssigned,
		OrderID:        order.ID,
		DeliveryUserID: courierID,
		Status:         order.Status,
	})

	return order, courier, nil
}

// MyDeliveries возвращает активные заказы курьера.
func (s *Service) MyDeliveries(ctx context.Context, courierID int64) ([]model.Order, error) {
	return s.repo.DeliveriesByCourier(ctx, courierID)
}

// DeliveryHistory возвращает завершённые заказы курьера.
func (s *Service) DeliveryHistory(ctx context.Context, courierID int64) ([]model.Order, error) {
	return s.repo.DeliveryHistoryByCourier(ctx, courierID)
}

// UpdateDeliveryStatus меняет статус доставки. Доступно только назначенному курьеру,
// статус ограничен набором EN_ROUTE, DELIVERED, FAILED. Проверка владения
// выполняется до валидации статуса, чтобы чужой курьер получал отказ в доступе.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, courierID, orderID int64, status model.OrderStatus) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.DeliveryUserID == nil || *order.DeliveryUserID != courierID {
		return nil, ErrNotAssignedCourier
	}

	if !model.IsDeliveryStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeliveryStatus, status)
	}

	updated, err := s.repo.UpdateDeliveryStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}

	metrics.StatusUpdatesTotal.WithLabelValues(string(status)).Inc()
	s.sendEvent(notify.Event{
		Type:           notify.EventStatusChanged,
		OrderID:        updated.ID,
		DeliveryUserID: courierID,
		Status:         updated.Status,
	})

	return updated, nil
}

// UpdateLocation сохраняет текущую позицию вызывающего пользователя.
func (s *Service) UpdateLocation(ctx context.Context, userID int64, latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return ErrInvalidCoordinates
	}

	if err := s.repo.UpsertLocation(ctx, userID, latitude, longitude); err != nil {
		return err
	}

	metrics.LocationUpdatesTotal.Inc()
	return nil
}

// LiveLocations возвращает текущие позиции всех курьеров.
func (s *Service) LiveLocations(ctx context.Context) ([]model.Geolocation, error) {
	return s.repo.LiveLocations(ctx)
}

// UploadProof сохраняет подтверждение доставки. Доступно только назначенному курьеру.
// Повторная загрузка перезаписывает предыдущее подтверждение.
func (s *Service) UploadProof(ctx context.Context, courierID, orderID int64, kind model.ProofKind, src io.Reader) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.DeliveryUserID == nil || *order.DeliveryUserID != courierID {
		return ErrNotAssignedCourier
	}

	name, err := s.proofs.Save(orderID, kind, src)
	if err != nil {
		return err
	}

	previous, err := s.repo.SetOrderProof(ctx, orderID, name, kind)
	if err != nil {
		// Запись в БД не удалась, файл больше никому не нужен.
		_ = s.proofs.Remove(name)
		return err
	}

	if previous != nil && *previous != name {
		_ = s.proofs.Remove(*previous)
	}

	metrics.ProofUploadsTotal.Inc()
	return nil
}

// GetProof возвращает содержимое подтверждения доставки.
// Доступно назначенному курьеру и ролям управления логистикой.
func (s *Service) GetProof(ctx context.Context, userID int64, role model.Role, orderID int64) (io.ReadCloser, model.ProofKind, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}

	if !canViewProof(order, userID, role) {
		return nil, "", ErrNotAssignedCourier
	}

	if order.ProofPath == nil || order.ProofType == nil {
		return nil, "", ErrProofNotUploaded
	}

	rc, err := s.proofs.Open(*order.ProofPath)
	if err != nil {
		if errors.Is(err, proofstore.ErrProofNotFound) {
			return nil, "", ErrProofNotUploaded
		}
		return nil, "", err
	}

	return rc, *order.ProofType, nil
}

func canViewProof(order *model.Order, userID int64, role model.Role) bool {
	for _, r := range model.ManagementRoles {
		if role == r {
			return true
		}
	}
	return role == model.RoleDelivery && order.DeliveryUserID != nil && *order.DeliveryUserID == userID
}

// sendEvent отправляет событие уведомлений в отдельной горутине,
// чтобы исход HTTP-запроса не зависел от внешнего сервиса.
func (s *Service) sendEvent(e notify.Event) {
	if s.notifier == nil {
		return
	}

	e.OccurredAt = time.Now().UTC()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		_ = s.notifier.Send(ctx, e)
	}()
}
