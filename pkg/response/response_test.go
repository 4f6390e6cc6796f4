package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	handler(c)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func TestSuccessAndCreated(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantMsg    string
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"a": 1}) }, http.StatusOK, "ok"},
		{"created", func(c *gin.Context) { Created(c, gin.H{"id": "r1"}) }, http.StatusCreated, "created"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, expected %d", w.Code, tt.wantStatus)
			}
			resp := parseResponse(t, w)
			if resp.Code != 0 || resp.Message != tt.wantMsg {
				t.Errorf("response = %+v, expected code 0 message %q", resp, tt.wantMsg)
			}
		})
	}
}

func TestShortcutHelpers(t *testing.T) {
	tests := []struct {
		name     string
		handler  gin.HandlerFunc
		wantCode int
	}{
		{"bad request", func(c *gin.Context) { BadRequest(c, "x") }, 400},
		{"unauthorized", func(c *gin.Context) { Unauthorized(c, "x") }, 401},
		{"forbidden", func(c *gin.Context) { Forbidden(c, "x") }, 403},
		{"not found", func(c *gin.Context) { NotFound(c, "x") }, 404},
		{"too many", func(c *gin.Context) { TooManyRequests(c, "x") }, 429},
		{"server error", func(c *gin.Context) { ServerError(c, "x") }, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, expected %d", w.Code, tt.wantCode)
			}
			if resp := parseResponse(t, w); resp.Code != tt.wantCode {
				t.Errorf("code = %d, expected %d", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestError_ValidationCarriesDetails(t *testing.T) {
	details := []string{"rating: must be between 1 and 5", "source: must be one of internal google zomato swiggy"}
	w := performRequest(func(c *gin.Context) {
		Error(c, fmt.Errorf("submit: %w", NewValidation("validation failed", details)))
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected %d", w.Code, http.StatusBadRequest)
	}
	resp := parseResponse(t, w)
	if len(resp.Details) != 2 {
		t.Fatalf("details = %v, expected 2 entries", resp.Details)
	}
	if resp.Details[0] != details[0] {
		t.Errorf("details[0] = %q, expected %q", resp.Details[0], details[0])
	}
}

func TestError_GenericErrorIsMasked(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, errors.New("dial tcp 10.0.0.5:3306: connection refused"))
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, expected %d", w.Code, http.StatusInternalServerError)
	}
	resp := parseResponse(t, w)
	if resp.Message != "internal server error" {
		t.Errorf("message = %q, expected masked message", resp.Message)
	}
}

func TestAppError_ErrorInterface(t *testing.T) {
	err := NewConflict("review already responded")
	if err.Error() != "review already responded" {
		t.Errorf("Error() = %q, expected %q", err.Error(), "review already responded")
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, expected %d", err.HTTPStatus, http.StatusConflict)
	}
}
