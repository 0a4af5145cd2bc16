package host

import (
	"net/http"
	"strings"

	"github.com/go-training/ssoflow/pkg/core"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// SessionCookie holds the host session id of a browser.
	SessionCookie = "sso_session"
	// MCPSessionHeader identifies an MCP client session.
	MCPSessionHeader = "Mcp-Session-Id"

	sessionIDKey = "session_id"
)

// corsMiddleware merges allowed headers with defaults and answers preflight requests.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Mcp-Protocol-Version", MCPSessionHeader, "Authorization", "Content-Type"}
	headers := append([]string{}, defaultHeaders...)
	for _, h := range allowedHeaders {
		hNorm := strings.TrimSpace(h)
		if hNorm != "" && hNorm != "*" && !containsCI(headers, hNorm) {
			headers = append(headers, hNorm)
		}
	}

	allowedMethods := []string{"GET", "POST", "DELETE", "OPTIONS"}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(headers, ", "))
		c.Header("Access-Control-Expose-Headers", MCPSessionHeader)
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}

// sessionMiddleware resolves the host session of the request: the MCP session
// header wins, then the session cookie, and a new cookie is issued otherwise.
// The session id and a request id are placed on the request context.
func (h *Host) sessionMiddleware(c *gin.Context) {
	var sessionID string
	if mcpID := c.GetHeader(MCPSessionHeader); mcpID != "" {
		sessionID = "mcp-" + mcpID
	} else if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		sessionID = cookie
	} else {
		sessionID = uuid.NewString()
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     SessionCookie,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   int(h.ttl.Seconds()),
			HttpOnly: true,
			Secure:   c.Request.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	ctx := core.WithRequestID(c.Request.Context())
	ctx = h.SessionContext(ctx, sessionID)
	core.AddRequestAttributes(ctx,
		attribute.String("http.route", c.FullPath()),
		attribute.String("sso.session_id", sessionID),
	)
	c.Request = c.Request.WithContext(ctx)
	c.Set(sessionIDKey, sessionID)
	c.Next()
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}
