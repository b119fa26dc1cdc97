// Package model содержит доменные сущности сервиса доставки.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleVendor     Role = "VENDOR"
	RoleCustomer   Role = "CUSTOMER"
	RoleDelivery   Role = "DELIVERY"
	RoleManager    Role = "MANAGER"
	RoleSupervisor Role = "SUPERVISOR"
)

// ManagementRoles — роли, которым доступно управление логистикой.
var ManagementRoles = []Role{RoleAdmin, RoleManager, RoleSupervisor}

// IsValidRole проверяет, что значение входит в закрытый набор ролей.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleVendor, RoleCustomer, RoleDelivery, RoleManager, RoleSupervisor:
		return true
	}
	return false
}

// IsSelfRegisterRole проверяет, что роль доступна при публичной регистрации.
// Остальные роли выдаются только администратором.
func IsSelfRegisterRole(r Role) bool {
	return r == RoleCustomer || r == RoleDelivery
}

// User представляет пользователя интернет-магазина.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCanceled       OrderStatus = "CANCELED"
	OrderStatusFailed         OrderStatus = "FAILED"
	OrderStatusInDelivery     OrderStatus = "IN_DELIVERY"
	OrderStatusAssigned       OrderStatus = "ASSIGNED"
	OrderStatusEnRoute        OrderStatus = "EN_ROUTE"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusReadyToShip    OrderStatus = "READY_TO_SHIP"
)

// IsDeliveryStatus проверяет, что статус входит в набор, доступный курьеру.
func IsDeliveryStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusEnRoute, OrderStatusDelivered, OrderStatusFailed:
		return true
	}
	return false
}

// ProofKind описывает тип подтверждения доставки.
type ProofKind string

const (
	ProofKindImage     ProofKind = "image"
	ProofKindSignature ProofKind = "signature"
)

// IsValidProofKind проверяет, что тип подтверждения входит в допустимый набор.
func IsValidProofKind(k ProofKind) bool {
	return k == ProofKindImage || k == ProofKindSignature
}

// Order описывает заказ и сведения о его доставке.
type Order struct {
	ID             int64
	Status         OrderStatus
	DeliveryUserID *int64
	ProofPath      *string
	ProofType      *ProofKind
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Geolocation содержит последнюю известную позицию курьера.
type Geolocation struct {
	ID        int64
	UserID    int64
	Latitude  float64
	Longitude float64
	UpdatedAt time.Time
	UserName  string
	UserEmail string
}
