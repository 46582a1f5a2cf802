package auth

import "context"

func withScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey{}, scopes)
}

// Scopes returns the scopes granted to the authenticated caller.
func Scopes(ctx context.Context) []string {
	if v, ok := ctx.Value(scopesKey{}).([]string); ok {
		return v
	}
	return nil
}
