package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// authKey carries the Authorization header through the request context.
type authKey struct{}

// AuthFromRequest copies the Authorization header into the context so tool
// and resource handlers can check it after the HTTP layer is gone.
func AuthFromRequest(_ *zap.Logger) func(context.Context, *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		return context.WithValue(ctx, authKey{}, r.Header.Get("Authorization"))
	}
}

// IsAuthenticated reports whether the caller may run tools on the given
// transport. Stdio is a local pipe and always trusted. SSE requires the
// LARK_MCP_API_KEY bearer key when one is configured; without a configured
// key the server is open.
func IsAuthenticated(ctx context.Context, transport string, logger *zap.Logger) (bool, error) {
	switch transport {
	case "stdio":
		return true, nil
	case "sse", "http":
	default:
		return false, fmt.Errorf("unknown transport type: %s", transport)
	}

	want := os.Getenv("LARK_MCP_API_KEY")
	if want == "" {
		return true, nil
	}

	got, _ := ctx.Value(authKey{}).(string)
	got = strings.TrimPrefix(got, "Bearer ")

	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		logger.Warn("Rejected unauthorized request",
			zap.String("transport", transport),
		)
		return false, fmt.Errorf("unauthorized request")
	}
	return true, nil
}

// BuildMiddleware wraps every tool handler with the transport's auth check.
func BuildMiddleware(transport string, logger *zap.Logger) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if ok, err := IsAuthenticated(ctx, transport, logger); !ok {
				return nil, err
			}
			return next(ctx, req)
		}
	}
}
