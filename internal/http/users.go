package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/entities"
)

type UsersController struct {
	users UserDirectory
}

func NewUsersController(users UserDirectory) *UsersController {
	return &UsersController{users: users}
}

// ListUsers handles GET /api/admin/users?role=&username=
// A username lookup returns a single-element list or an empty one.
func (uc *UsersController) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	if username := c.Query("username"); username != "" {
		user, err := uc.users.GetUserByUsername(ctx, username)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"items": []entities.User{}, "total": 0})
			return
		}
		if err != nil {
			respondInternalError(c, err, "get user")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": []entities.User{*user}, "total": 1})
		return
	}

	role := entities.UserRole(c.Query("role"))
	if role != "" && !role.IsValid() {
		respondBadRequest(c, "role must be member, librarian or admin")
		return
	}
	items, err := uc.users.ListUsers(ctx, role)
	if err != nil {
		respondInternalError(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}
