package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the ops API.
// This service has no tenant concept; identity is an operator plus a role.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}
