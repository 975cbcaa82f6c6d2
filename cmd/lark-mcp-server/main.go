package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/larkmcp/lark-mcp-server/pkg/server"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

var defaultSseHost = "127.0.0.1"
var defaultSsePort = 13080

func main() {
	var transport string
	flag.StringVar(&transport, "t", "stdio", "Transport type (stdio or sse)")
	flag.StringVar(&transport, "transport", "stdio", "Transport type (stdio or sse)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// a missing .env is fine, a broken one is not
		panic(err)
	}

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	p, err := provider.New(transport, logger)
	if err != nil {
		logger.Fatal("Error creating provider", zap.Error(err))
	}

	s := server.NewMCPServer(p, transport, logger)

	go newTablesWatcher(p, logger)()

	switch transport {
	case "stdio":
		if err := s.ServeStdio(); err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	case "sse":
		host := os.Getenv("LARK_MCP_HOST")
		if host == "" {
			host = defaultSseHost
		}
		port := os.Getenv("LARK_MCP_PORT")
		if port == "" {
			port = strconv.Itoa(defaultSsePort)
		}

		sseServer := s.ServeSSE(host + ":" + port)
		logger.Info("SSE server listening",
			zap.String("host", host),
			zap.String("port", port),
		)
		if err := sseServer.Start(host + ":" + port); err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	default:
		logger.Fatal("Invalid transport type, must be 'stdio' or 'sse'",
			zap.String("transport", transport),
		)
	}
}

func newLogger() (*zap.Logger, error) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	return cfg.Build()
}

func newTablesWatcher(p *provider.ApiProvider, logger *zap.Logger) func() {
	return func() {
		if p.DefaultAppToken() == "" {
			logger.Info("No default base configured, skipping tables cache warmup")
			return
		}

		logger.Info("Caching tables collection...")

		if p.LoadTablesCache() {
			return
		}

		if err := p.RefreshTables(context.Background()); err != nil {
			logger.Error("Error warming tables cache", zap.Error(err))
			return
		}

		logger.Info("Tables cached successfully")
	}
}
