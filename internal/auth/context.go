package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxAssistantID
	ctxRole
)

func WithIdentity(ctx context.Context, userID, assistantID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxAssistantID, assistantID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

// WithAssistant attaches only the tenant identity; used by API-key auth where
// there is no user behind the call.
func WithAssistant(ctx context.Context, assistantID string) context.Context {
	return context.WithValue(ctx, ctxAssistantID, assistantID)
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func AssistantID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAssistantID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("assistant_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
