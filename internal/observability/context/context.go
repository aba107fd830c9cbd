package obscontext

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type merchantReferenceKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// WithRequestID stores the request identifier used for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithActor stores who triggered the current request (user, gateway, system).
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

// WithMerchantReference tags the context with the payment being processed.
func WithMerchantReference(ctx context.Context, reference string) context.Context {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ctx
	}
	return context.WithValue(ctx, merchantReferenceKey{}, reference)
}

func MerchantReferenceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(merchantReferenceKey{}).(string)
	return value
}
