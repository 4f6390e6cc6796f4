package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

func protectedRouter() *gin.Engine {
	router := gin.New()
	router.Use(AuthRequired())
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(200, gin.H{"user": GetUserID(c), "role": GetRole(c), "branch": GetBranchID(c)})
	})
	return router
}

func TestAuthRequired_NoCredentials(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	protectedRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthRequired_InvalidFormat(t *testing.T) {
	router := protectedRouter()

	testCases := []string{
		"InvalidToken",
		"Basic token123",
		"Bearer",
		"Bearer ",
	}

	for _, authHeader := range testCases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", authHeader)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status %d, got %d", authHeader, http.StatusUnauthorized, w.Code)
		}
	}
}

func TestAuthRequired_InvalidToken(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer invalid.jwt.token")
	protectedRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthRequired_ValidToken(t *testing.T) {
	token, _ := utils.GenerateToken("u1", "manager", "b1", 24)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		path  string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "/protected"},
		{"query token", func(r *http.Request) {}, "/protected?token=" + token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", tt.path, nil)
			tt.setup(req)
			protectedRouter().ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
			}
			want := `{"branch":"b1","role":"manager","user":"u1"}`
			if w.Body.String() != want {
				t.Errorf("body = %s, expected %s", w.Body.String(), want)
			}
		})
	}
}

func roleRouter(role, branch string, mw gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role != "" {
			c.Set(ContextRole, role)
		}
		if branch != "" {
			c.Set(ContextBranchID, branch)
		}
		c.Next()
	})
	router.GET("/branches/:branchId", mw, func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return router
}

func TestAdminRequired(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"", http.StatusForbidden},
		{"staff", http.StatusForbidden},
		{"admin", http.StatusOK},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/branches/b1", nil)
		roleRouter(tt.role, "", AdminRequired()).ServeHTTP(w, req)

		if w.Code != tt.want {
			t.Errorf("role %q: expected status %d, got %d", tt.role, tt.want, w.Code)
		}
	}
}

func TestBranchScoped(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		branch string
		want   int
	}{
		{"admin any branch", "admin", "", http.StatusOK},
		{"own branch", "manager", "b1", http.StatusOK},
		{"other branch", "manager", "b2", http.StatusForbidden},
		{"unbound staff", "staff", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/branches/b1", nil)
			roleRouter(tt.role, tt.branch, BranchScoped("branchId")).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestContextGetters_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if id := GetUserID(c); id != "" {
		t.Errorf("GetUserID() = %q, expected empty", id)
	}
	if role := GetRole(c); role != "" {
		t.Errorf("GetRole() = %q, expected empty", role)
	}
	if b := GetBranchID(c); b != "" {
		t.Errorf("GetBranchID() = %q, expected empty", b)
	}
}
