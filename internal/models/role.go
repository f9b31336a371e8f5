package models

import "strings"

// Role is the side a participant takes in a conversation.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleCounterparty Role = "counterparty"
	RoleAdmin        Role = "admin"
)

// NormalizeRole maps a free-form connect-time role onto a conversation role.
func NormalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "counterparty", "car_provider", "provider":
		return RoleCounterparty
	case "admin":
		return RoleAdmin
	default:
		return RoleCustomer
	}
}

// Opposite returns the role expected on the other side of a two-party chat.
func (r Role) Opposite() Role {
	if r == RoleCustomer {
		return RoleCounterparty
	}
	return RoleCustomer
}
