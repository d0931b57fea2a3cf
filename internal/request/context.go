package request

import (
	"context"
	"strings"
)

// UnknownClient is reported when no client address was attached to the context.
const UnknownClient = "unknown"

type ctxKey int

const clientIPKey ctxKey = 1

func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client address set by the HTTP layer, or UnknownClient.
func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return UnknownClient
	}
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return UnknownClient
}
