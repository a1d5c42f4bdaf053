package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey      = contextKey{"user_id"}
	displayNameKey = contextKey{"display_name"}
	sessionIDKey   = contextKey{"session_id"}
)

// WithIdentity returns a context with user_id, display_name, and session_id set.
// Handlers read these via GetUserID, GetDisplayName, GetSessionID.
func WithIdentity(ctx context.Context, userID, displayName, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, displayNameKey, displayName)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetDisplayName returns the display_name from context and true if set; otherwise "", false.
func GetDisplayName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(displayNameKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}
