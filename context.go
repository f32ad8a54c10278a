package authcore

import (
	"context"

	"github.com/rankwatch/authcore/internal"
)

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}
type acceptContextKey struct{}
type acceptLanguageContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP rate limiting, device fingerprinting, risk scoring and audit
// records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Every store key and
// lookup is tenant-scoped; when no tenant is attached the default tenant
// "0" is used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserAgent attaches the HTTP User-Agent header to ctx. It feeds the
// device fingerprint and the risk scorer.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithAccept attaches the HTTP Accept header to ctx for device
// fingerprinting.
func WithAccept(ctx context.Context, accept string) context.Context {
	return context.WithValue(ctx, acceptContextKey{}, accept)
}

// WithAcceptLanguage attaches the HTTP Accept-Language header to ctx for
// device fingerprinting.
func WithAcceptLanguage(ctx context.Context, acceptLanguage string) context.Context {
	return context.WithValue(ctx, acceptLanguageContextKey{}, acceptLanguage)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func acceptFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	accept, _ := ctx.Value(acceptContextKey{}).(string)
	return accept
}

func acceptLanguageFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	lang, _ := ctx.Value(acceptLanguageContextKey{}).(string)
	return lang
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "0"
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	return normalizeTenant(tenantID)
}

// normalizeTenant maps the empty tenant to the default tenant "0" so
// single-tenant deployments and tenant-less records share one namespace.
func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// fingerprintFromContext derives the device fingerprint from the request
// metadata attached to ctx. The second return is false when none of the
// four inputs is present, which callers treat as "no fingerprint supplied"
// rather than hashing four empty strings.
func fingerprintFromContext(ctx context.Context) ([32]byte, bool) {
	ua := userAgentFromContext(ctx)
	accept := acceptFromContext(ctx)
	lang := acceptLanguageFromContext(ctx)
	ip := clientIPFromContext(ctx)

	if ua == "" && accept == "" && lang == "" && ip == "" {
		return [32]byte{}, false
	}

	return internal.Fingerprint(ua, accept, lang, ip), true
}
