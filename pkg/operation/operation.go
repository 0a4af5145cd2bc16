package operation

import (
	"github.com/go-training/ssoflow/pkg/operation/auth"
	"github.com/go-training/ssoflow/pkg/operation/token"

	"github.com/mark3labs/mcp-go/server"
)

/*
RegisterSSOTool registers the SSO tools to the specified MCPServer instance.

Parameters:
  - s: Pointer to the MCPServer instance where the tools will be registered.

Login and logout are write operations; status, token display and
authenticated requests are reads.
*/
func RegisterSSOTool(s *server.MCPServer) {
	tool := &Tool{}

	tool.RegisterWrite(server.ServerTool{
		Tool:    auth.SSOAuthorizeTool,
		Handler: auth.HandleSSOAuthorizeTool,
	})
	tool.RegisterWrite(server.ServerTool{
		Tool:    auth.SSOLogoutTool,
		Handler: auth.HandleSSOLogoutTool,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    auth.SSOStatusTool,
		Handler: auth.HandleSSOStatusTool,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    token.ShowAccessTokenTool,
		Handler: token.HandleShowAccessTokenTool,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    token.MakeAuthenticatedRequestTool,
		Handler: token.HandleMakeAuthenticatedRequestTool,
	})

	s.AddTools(tool.Tools()...)
}

/*
Tool manages collections of tools to be registered with an MCPServer.

Fields:
  - write: Stores all ServerTools registered as write operations.
  - read: Stores all ServerTools registered as read operations.
*/
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

// RegisterWrite registers a ServerTool as a write operation.
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

// RegisterRead registers a ServerTool as a read operation.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns all registered ServerTools, write tools first.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}
