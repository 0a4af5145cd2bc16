// Package token provides MCP tools for authenticated HTTP requests and showing the SSO access token.
package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/host"
	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxBody bounds the response body returned to the client.
const maxBody = 4 << 10

// response summarizes an upstream response.
type response struct {
	Status string
	Body   string
}

// makeRequest sends a request through client, which attaches the bearer
// token of the session. Non-2xx responses are returned as errors.
func makeRequest(ctx context.Context, client *http.Client, method, target string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http request failed: status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return &response{Status: resp.Status, Body: string(body)}, nil
}

// MakeAuthenticatedRequestTool defines the MCP tool for making authenticated HTTP requests.
var MakeAuthenticatedRequestTool = mcp.NewTool("make_authenticated_request",
	mcp.WithDescription("Make an HTTP request to the upstream API carrying the SSO access token of the current session"),
	mcp.WithString("url",
		mcp.Description("Path below the upstream API, or an absolute URL under it"),
		mcp.Required(),
	),
	mcp.WithString("method",
		mcp.Description("HTTP method, GET by default"),
	),
)

// ShowAccessTokenTool defines the MCP tool for displaying the masked access token.
var ShowAccessTokenTool = mcp.NewTool("show_access_token",
	mcp.WithDescription("Show the SSO access token of the current session, masked"),
)

// HandleMakeAuthenticatedRequestTool is an MCP tool handler that sends a
// request with the session's bearer token. Targets outside the upstream API
// are refused.
func HandleMakeAuthenticatedRequestTool(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling make_authenticated_request tool")
	target, ok := request.GetArguments()["url"].(string)
	if !ok || target == "" {
		logger.Error("Missing url argument")
		return nil, fmt.Errorf("missing url")
	}
	method, _ := request.GetArguments()["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	m, err := sso.MachineFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := host.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !m.IsAuthorized() {
		return mcp.NewToolResultError("not authorized, call sso_authorize first"), nil
	}
	apiURL, err := h.APIURL(target)
	if err != nil {
		logger.Warn("Refusing request outside the upstream API", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := makeRequest(ctx, h.APIClient(m), strings.ToUpper(method), apiURL.String())
	if err != nil {
		logger.Error("HTTP request failed", "error", err)
		return nil, err
	}
	logger.Info("HTTP request succeeded", "status", resp.Status)
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n%s", resp.Status, resp.Body)), nil
}

// HandleShowAccessTokenTool is an MCP tool handler that returns the masked access token.
func HandleShowAccessTokenTool(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	m, err := sso.MachineFromContext(ctx)
	if err != nil {
		return nil, err
	}
	token := m.AccessToken()
	if token == "" {
		return mcp.NewToolResultError("no access token"), nil
	}
	return mcp.NewToolResultText(mask(token)), nil
}

// mask keeps the first 6 and last 2 characters of long tokens.
func mask(token string) string {
	if len(token) > 8 {
		return token[:6] + "****" + token[len(token)-2:]
	}
	return "****"
}
