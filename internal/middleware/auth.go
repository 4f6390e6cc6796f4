package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/utils"
	"github.com/huangang/reviewiq/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextRole     = "role"
	ContextBranchID = "branch_id"

	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// AuthRequired checks for a valid JWT in the Authorization header. EventSource
// clients cannot set headers, so a ?token= query parameter is accepted too.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "authorization required")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextBranchID, claims.BranchID)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	// "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// AdminRequired is a middleware that checks for admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != RoleAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// BranchScoped rejects non-admin callers whose token is bound to a branch
// other than the one named by the route parameter.
func BranchScoped(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CanAccessBranch(c, c.Param(param)) {
			response.Forbidden(c, "no access to this branch")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CanAccessBranch reports whether the current caller may read or act on branchID.
func CanAccessBranch(c *gin.Context, branchID string) bool {
	if GetRole(c) == RoleAdmin {
		return true
	}
	own := GetBranchID(c)
	return own != "" && own == branchID
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}

// GetBranchID is empty for admins and unauthenticated requests.
func GetBranchID(c *gin.Context) string {
	return c.GetString(ContextBranchID)
}
