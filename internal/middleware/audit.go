package middleware

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/tidwall/gjson"
)

const maxAuditBody = 2000

// AuditRecorder is satisfied by *services.AuditService.
type AuditRecorder interface {
	LogEvent(ctx context.Context, ev services.AuditEvent) error
}

var sensitiveKeys = []string{"password", "apikey", "api_key", "secret", "token", "access_token", "contact"}

// AuditLog records staff write operations (responses, manual sync) as audit entries.
func AuditLog(recorder AuditRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		c.Next()

		targetType, targetID := parseRouteTarget(c)
		branchID := c.Param("branchId")
		if branchID == "" {
			branchID = GetBranchID(c)
		}

		// The response is already written; the entry must outlive a client disconnect.
		_ = recorder.LogEvent(context.WithoutCancel(c.Request.Context()), services.AuditEvent{
			ActorUID:   GetUserID(c),
			Action:     models.AuditActionRequest,
			TargetID:   targetID,
			TargetType: targetType,
			BranchID:   branchID,
			IP:         c.ClientIP(),
			Metadata: map[string]interface{}{
				"method": method,
				"path":   c.Request.URL.Path,
				"route":  c.FullPath(),
				"status": c.Writer.Status(),
				"body":   maskBody(body),
			},
		})
	}
}

// parseRouteTarget derives the audited entity from the matched route,
// e.g. "/api/reviews/:id/responses" -> ("review", id).
func parseRouteTarget(c *gin.Context) (targetType, targetID string) {
	path := strings.TrimPrefix(c.FullPath(), "/api/")
	segment := strings.SplitN(path, "/", 2)[0]
	targetType = strings.TrimSuffix(segment, "s")
	if targetType == "" {
		targetType = "unknown"
	}

	targetID = c.Param("id")
	if targetID == "" {
		targetID = c.Param("branchId")
	}
	return targetType, targetID
}

// maskBody returns the top-level JSON fields of body with sensitive values
// replaced. Non-JSON bodies are summarised, never stored raw.
func maskBody(body []byte) interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return "[non-json body]"
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return truncate(parsed.Raw)
	}

	out := make(map[string]interface{})
	parsed.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case isSensitive(k):
			out[k] = "***"
		case value.Type == gjson.String:
			out[k] = truncate(value.String())
		default:
			out[k] = value.Value()
		}
		return true
	})
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s || strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) > maxAuditBody {
		return s[:maxAuditBody] + "...[truncated]"
	}
	return s
}
