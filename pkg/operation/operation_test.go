package operation

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTool_WriteFirst(t *testing.T) {
	tool := &Tool{}
	tool.RegisterRead(server.ServerTool{Tool: mcp.NewTool("read_a")})
	tool.RegisterWrite(server.ServerTool{Tool: mcp.NewTool("write_a")})
	tool.RegisterRead(server.ServerTool{Tool: mcp.NewTool("read_b")})

	var names []string
	for _, st := range tool.Tools() {
		names = append(names, st.Tool.Name)
	}
	assert.Equal(t, []string{"write_a", "read_a", "read_b"}, names)
}

func TestMCPToolHandlerMiddleware_PassesThrough(t *testing.T) {
	mw := MCPToolHandlerMiddleware()
	req := mcp.CallToolRequest{}
	req.Params.Name = "sso_status"

	tests := []struct {
		name    string
		res     *mcp.CallToolResult
		err     error
		wantErr bool
	}{
		{name: "ok", res: mcp.NewToolResultText("fine")},
		{name: "tool error", res: mcp.NewToolResultError("nope")},
		{name: "handler error", err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			handler := mw(func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				calls++
				assert.Equal(t, "sso_status", r.Params.Name)
				return tt.res, tt.err
			})
			res, err := handler(context.Background(), req)
			require.Equal(t, 1, calls)
			assert.Equal(t, tt.res, res)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer("sso-console", "test")
	require.NotNil(t, s.Server())
	require.NotNil(t, s.ServeHTTP())
}
