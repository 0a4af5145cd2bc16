// Package auth provides MCP tools that drive the SSO login of the caller's session.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/host"
	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/mark3labs/mcp-go/mcp"
)

// SSOStatusTool reports the authorization status of the session.
var SSOStatusTool = mcp.NewTool("sso_status",
	mcp.WithDescription("Show the SSO authorization status, token details and reported errors of the current session"),
)

// SSOAuthorizeTool starts a login and returns the URL the user must open.
var SSOAuthorizeTool = mcp.NewTool("sso_authorize",
	mcp.WithDescription(`Start an SSO login for the current session.

Returns the identity provider URL to open in a browser. Once the login
finishes there, the session becomes authorized without further calls.`),
	mcp.WithString("parameter_name",
		mcp.Description("Optional extra query parameter for the authorize URL, such as a tenant hint"),
	),
	mcp.WithString("parameter_value",
		mcp.Description("Value of parameter_name; ignored unless both are set"),
	),
)

// SSOLogoutTool drops the session's token.
var SSOLogoutTool = mcp.NewTool("sso_logout",
	mcp.WithDescription("Remove the SSO token of the current session"),
)

type statusResult struct {
	Status     string       `json:"status"`
	Authorized bool         `json:"authorized"`
	Username   string       `json:"username,omitempty"`
	TenantID   string       `json:"tenantId,omitempty"`
	ExpireTime string       `json:"expireTime,omitempty"`
	HasRefresh bool         `json:"hasRefreshToken"`
	Errors     []sso.Report `json:"errors,omitempty"`
}

func HandleSSOStatusTool(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := sso.MachineFromContext(ctx)
	if err != nil {
		return nil, err
	}

	res := statusResult{
		Status:     m.Status().String(),
		Authorized: m.IsAuthorized(),
		HasRefresh: m.HasRefreshToken(),
	}
	if tok, ok := m.Token(); ok {
		res.Username = tok.Username
		res.TenantID = tok.TenantID
		res.ExpireTime = tok.ExpireTime.Format(time.RFC3339)
	}
	if board, ok := m.Errors().(*sso.ErrorBoard); ok {
		res.Errors = board.All()
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func HandleSSOAuthorizeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	m, err := sso.MachineFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := host.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	sessionID, err := core.SessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	args := request.GetArguments()
	name, _ := args["parameter_name"].(string)
	value, _ := args["parameter_value"].(string)

	if err := m.Authorize(ctx, name, value); err != nil {
		logger.Error("SSO authorize failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	nav, ok := h.PendingNavigation(sessionID)
	if !ok {
		return mcp.NewToolResultError("no login URL was produced"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Open this URL to log in: %s", nav.URL)), nil
}

func HandleSSOLogoutTool(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := sso.MachineFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.RemoveToken(ctx, "logout")
	return mcp.NewToolResultText("logged out"), nil
}
