package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/host"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates an MCP server exposing the SSO tools.
func NewMCPServer(name, version string) *MCPServer {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(MCPToolHandlerMiddleware()),
	)

	RegisterSSOTool(mcpServer)

	return &MCPServer{
		server: mcpServer,
	}
}

// Server returns the wrapped MCP server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeHTTP returns a streamable HTTP server. Requests reach it through the
// host router, whose session middleware has already placed the session
// Machine on the request context.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
	)
}

// ServeStdio starts the MCP server on stdio, bound to the single stdio session of h.
func (s *MCPServer) ServeStdio(h *host.Host) error {
	return server.ServeStdio(s.server, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
		ctx = core.WithRequestID(ctx)
		return h.SessionContext(ctx, host.StdioSessionID)
	}))
}

// MCPToolHandlerMiddleware records the tool name, status and duration of every
// tool call on the active span, or logs them when no span is recording.
func MCPToolHandlerMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			core.AddRequestAttributes(ctx, attribute.String("mcp.tool", req.Params.Name))

			res, err := next(ctx, req)
			durationMs := float64(time.Since(start).Microseconds()) / 1000.0

			status := "ok"
			var errMsg string
			if err != nil {
				status = "error"
				errMsg = err.Error()
			} else if res != nil && res.IsError {
				status = "error"
				if len(res.Content) > 0 {
					if txt, ok := res.Content[0].(mcp.TextContent); ok {
						errMsg = txt.Text
					} else {
						errMsg = fmt.Sprintf("unknown error with content type %T", res.Content[0])
					}
				}
			}
			attrs := []attribute.KeyValue{
				attribute.String("mcp.status", status),
				attribute.Float64("mcp.duration_ms", durationMs),
			}
			if errMsg != "" {
				attrs = append(attrs, attribute.String("mcp.error", errMsg))
			}
			core.AddRequestAttributes(ctx, attrs...)

			return res, err
		}
	}
}
