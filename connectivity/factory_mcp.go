package connectivity

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpConfig is the per-route config parsed from the routes table JSON
// for MCP transport.
type mcpConfig struct {
	ToolName    string `json:"tool_name"`
	InsecureTLS bool   `json:"insecure_tls"`
}

// MCPFactory creates Handlers that dispatch calls as MCP tool invocations
// over the streamable HTTP transport. The payload is unmarshalled as a JSON
// map of tool arguments. The endpoint is the MCP server URL
// (e.g. "http://10.0.0.5:8098/mcp").
//
// Unlike the "http" strategy this transport is meant for intra-deployment
// traffic, so private and loopback endpoints are allowed.
//
// The route config JSON must include "tool_name" to specify which MCP tool
// to call. Example config:
//
//	{"tool_name": "replay_resolve", "insecure_tls": true}
//
// Register it with:
//
//	router.RegisterTransport("mcp", connectivity.MCPFactory())
func MCPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg mcpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/mcp: parse config: %w", err)
			}
		}
		if cfg.ToolName == "" {
			return nil, nil, fmt.Errorf("connectivity/mcp: tool_name required in config")
		}

		httpClient := http.DefaultClient
		if cfg.InsecureTLS {
			httpClient = &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			}
		}

		transport := &mcp.StreamableClientTransport{
			Endpoint:   endpoint,
			HTTPClient: httpClient,
		}
		client := mcp.NewClient(&mcp.Implementation{
			Name:    "testflow-router",
			Version: "1.0.0",
		}, nil)

		// Connect eagerly so we fail fast during Reload. Connect performs the
		// full MCP initialize handshake.
		session, err := client.Connect(context.Background(), transport, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connectivity/mcp: connect to %s: %w", endpoint, err)
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			var args map[string]any
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, fmt.Errorf("connectivity/mcp: unmarshal args: %w", err)
				}
			}

			result, err := session.CallTool(ctx, &mcp.CallToolParams{
				Name:      cfg.ToolName,
				Arguments: args,
			})
			if err != nil {
				return nil, fmt.Errorf("connectivity/mcp: call %s: %w", cfg.ToolName, err)
			}
			if err := result.GetError(); err != nil {
				return nil, fmt.Errorf("connectivity/mcp: tool %s: %w", cfg.ToolName, err)
			}

			resp, err := json.Marshal(result)
			if err != nil {
				return nil, fmt.Errorf("connectivity/mcp: marshal result: %w", err)
			}
			return resp, nil
		}

		closeFn := func() {
			session.Close()
		}

		return handler, closeFn, nil
	}
}
