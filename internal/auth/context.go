package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxOperatorID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, operatorID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func OperatorID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxOperatorID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
