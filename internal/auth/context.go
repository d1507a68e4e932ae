package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: identity not in context")

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}
