package auth

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/entities"
)

// LoginAuditor records authentication attempts.
type LoginAuditor interface {
	LogAuth(userID uint, action string, success bool)
}

// AuthController serves the JSON login, logout and token endpoints.
type AuthController struct {
	service        *Service
	sessionManager *SessionManager
	auditor        LoginAuditor
}

func NewAuthController(service *Service, sessionManager *SessionManager, auditor LoginAuditor) *AuthController {
	return &AuthController{
		service:        service,
		sessionManager: sessionManager,
		auditor:        auditor,
	}
}

// Credentials is the body of login and token requests.
type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID       uint              `json:"id"`
	Username string            `json:"username"`
	Email    string            `json:"email"`
	FullName string            `json:"full_name,omitempty"`
	Role     entities.UserRole `json:"role"`
}

func NewUserResponse(u *entities.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

// Login handles POST /api/auth/login and starts a cookie session.
func (ac *AuthController) Login(c *gin.Context) {
	if ac.sessionManager == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled", "code": "not_found"})
		return
	}

	user, ok := ac.authenticate(c, "login")
	if !ok {
		return
	}

	if err := ac.sessionManager.CreateSession(c.Request.Context(), user); err != nil {
		log.Printf("Auth: failed to create session for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session", "code": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": NewUserResponse(user)})
}

// Logout handles POST /api/auth/logout. It always succeeds.
func (ac *AuthController) Logout(c *gin.Context) {
	if ac.sessionManager != nil {
		userID := ac.sessionManager.GetUserID(c.Request)
		if err := ac.sessionManager.DestroySession(c.Request.Context()); err != nil {
			log.Printf("Auth: failed to destroy session: %v", err)
		}
		if userID != 0 {
			ac.audit(userID, "logout", true)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// IssueToken handles POST /api/auth/token: it exchanges credentials for a new
// API token, replacing any previous one.
func (ac *AuthController) IssueToken(c *gin.Context) {
	user, ok := ac.authenticate(c, "token")
	if !ok {
		return
	}

	token, err := ac.service.GenerateToken(c.Request.Context(), user.ID)
	if err != nil {
		log.Printf("Auth: failed to generate token for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token", "code": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"user":       NewUserResponse(user),
	})
}

// Me handles GET /api/auth/me.
func (ac *AuthController) Me(c *gin.Context) {
	userID := GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthenticated"})
		return
	}
	user, err := ac.service.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found", "code": "not_found"})
		return
	}

	resp := gin.H{
		"user":         NewUserResponse(user),
		"auth_type":    GetAuthType(c),
		"auth_enabled": ac.service.IsAuthEnabled(),
	}
	if token := GetCSRFToken(c); token != "" {
		resp["csrf_token"] = token
	}
	if ac.sessionManager != nil && GetAuthType(c) == AuthTypeSession {
		resp["login_at"] = ac.sessionManager.GetLoginAt(c.Request)
	}
	c.JSON(http.StatusOK, resp)
}

// RevokeToken handles DELETE /api/auth/token and invalidates the caller's
// API token.
func (ac *AuthController) RevokeToken(c *gin.Context) {
	userID := GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthenticated"})
		return
	}
	if err := ac.service.RevokeToken(c.Request.Context(), userID); err != nil {
		log.Printf("Auth: failed to revoke token for user %d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token", "code": "internal_error"})
		return
	}
	ac.audit(userID, "revoke_token", true)
	c.JSON(http.StatusOK, gin.H{"message": "token revoked"})
}

func (ac *AuthController) authenticate(c *gin.Context, action string) (*entities.User, bool) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required", "code": "invalid_request"})
		return nil, false
	}

	user, err := ac.service.Authenticate(c.Request.Context(), creds.Username, creds.Password)
	switch {
	case err == nil:
		ac.audit(user.ID, action, true)
		return user, true
	case errors.Is(err, ErrAccountLocked):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "account_locked"})
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password", "code": "invalid_credentials"})
	default:
		log.Printf("Auth: %s failed: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication failed", "code": "internal_error"})
		return nil, false
	}
	ac.audit(0, action, false)
	return nil, false
}

func (ac *AuthController) audit(userID uint, action string, success bool) {
	if ac.auditor != nil {
		ac.auditor.LogAuth(userID, action, success)
	}
}
