// Package auth identifies API callers and supplies the {id, role} pair that
// circulation workflows authorize against.
//
// Two modes are supported:
//   - "none": every request runs as a local admin account (development)
//   - "local": accounts in the database, with session cookies or Bearer tokens
//
// Set AUTH_MODE to select the mode. For local mode:
//
//	AUTH_SESSION_SECRET=<hex>     # Auto-generated if empty
//	AUTH_SESSION_LIFETIME=24h
//	AUTH_TOKEN_EXPIRY=720h
//	AUTH_BCRYPT_COST=12
//	AUTH_SECURE_COOKIES=true
//	AUTH_MAX_LOGIN_ATTEMPTS=5
//	AUTH_LOCKOUT_DURATION=30m
//
// Handlers read the caller with GetActor:
//
//	actor := auth.GetActor(c)
//	loan, err := circulation.Borrow(ctx, actor, bookID)
package auth
