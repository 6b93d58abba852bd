/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import "context"

type contextKey struct{}

// anonymousOperator names callers on an unauthenticated transport.
const anonymousOperator = "anonymous"

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Operator names the caller for logs and history.
func Operator(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Operator != "" {
		return claims.Operator
	}
	return anonymousOperator
}
