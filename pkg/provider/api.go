package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/larkmcp/lark-mcp-server/pkg/lark"
	"github.com/larkmcp/lark-mcp-server/pkg/limiter"
	"github.com/larkmcp/lark-mcp-server/pkg/text"
	"github.com/larkmcp/lark-mcp-server/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultTablesCache = ".tables_cache.json"

// TableInfo is the cached shape of one table: identity plus field schema.
type TableInfo struct {
	Table  lark.Table   `json:"table"`
	Fields []lark.Field `json:"fields"`
}

// ApiProvider boots the Lark client lazily and owns the process-wide caches
// and the admission limiter every call site shares.
type ApiProvider struct {
	serverTransport string
	boot            func() (*lark.Client, error)
	logger          *zap.Logger

	lim      *limiter.TieredLimiter
	appToken string
	cache    string
	ready    atomic.Bool

	mu     sync.RWMutex
	client *lark.Client
	tables map[string]TableInfo
}

// New reads the LARK_MCP_* environment and prepares a provider. The client
// itself is not booted until the first Provide call.
func New(serverTransport string, logger *zap.Logger) (*ApiProvider, error) {
	appID := os.Getenv("LARK_MCP_APP_ID")
	if appID == "" {
		return nil, errors.New("LARK_MCP_APP_ID environment variable is required")
	}
	appSecret := os.Getenv("LARK_MCP_APP_SECRET")
	if appSecret == "" {
		return nil, errors.New("LARK_MCP_APP_SECRET environment variable is required")
	}

	appToken := os.Getenv("LARK_MCP_APP_TOKEN")
	if appToken == "" {
		// The base may be configured by its URL instead of the raw token.
		if baseURL := os.Getenv("LARK_MCP_BASE_URL"); baseURL != "" {
			token, err := text.AppToken(baseURL)
			if err != nil {
				return nil, fmt.Errorf("LARK_MCP_BASE_URL: %w", err)
			}
			appToken = token
		}
	}

	cache := os.Getenv("LARK_MCP_TABLES_CACHE")
	if cache == "" {
		cache = defaultTablesCache
	}

	lim, err := limiterFromEnv()
	if err != nil {
		return nil, err
	}

	ap := &ApiProvider{
		serverTransport: serverTransport,
		logger:          logger,
		lim:             lim,
		appToken:        appToken,
		cache:           cache,
		tables:          make(map[string]TableInfo),
	}
	ap.boot = func() (*lark.Client, error) {
		rt, err := transport.New(os.Getenv("LARK_MCP_USER_AGENT"), logger)
		if err != nil {
			return nil, err
		}

		opts := []lark.Option{
			lark.WithLogger(logger),
			lark.WithHTTPClient(&http.Client{
				Transport: rt,
				Timeout:   30 * time.Second,
			}),
		}
		if apiBase := os.Getenv("LARK_MCP_API_BASE"); apiBase != "" {
			opts = append(opts, lark.WithBaseURL(apiBase))
		}

		return lark.New(appID, appSecret, lim, opts...), nil
	}

	return ap, nil
}

// limiterFromEnv applies the process-level controls to the default quota
// table: LARK_MCP_RATE_LIMIT_DISABLED switches the limiter off,
// LARK_MCP_REQUESTS_PER_MINUTE and LARK_MCP_WRITES_PER_MINUTE override the
// read and write quotas.
func limiterFromEnv() (*limiter.TieredLimiter, error) {
	var opts []limiter.Option

	if v := os.Getenv("LARK_MCP_RATE_LIMIT_DISABLED"); v == "true" || v == "1" {
		opts = append(opts, limiter.WithDisabled())
	}
	if v := os.Getenv("LARK_MCP_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("LARK_MCP_REQUESTS_PER_MINUTE: invalid value %q", v)
		}
		opts = append(opts, limiter.WithRequestsPerMinute(n))
	}
	if v := os.Getenv("LARK_MCP_WRITES_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("LARK_MCP_WRITES_PER_MINUTE: invalid value %q", v)
		}
		opts = append(opts, limiter.WithWritesPerMinute(n))
	}

	return limiter.New(limiter.DefaultConfig(), opts...)
}

// Provide returns the booted client, booting it on first use.
func (ap *ApiProvider) Provide() (*lark.Client, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.client == nil {
		client, err := ap.boot()
		if err != nil {
			return nil, err
		}
		ap.client = client
	}
	return ap.client, nil
}

// Limiter returns the shared admission limiter.
func (ap *ApiProvider) Limiter() *limiter.TieredLimiter {
	return ap.lim
}

// DefaultAppToken returns the configured Bitable base, possibly empty when
// every tool call names its own base.
func (ap *ApiProvider) DefaultAppToken() string {
	return ap.appToken
}

// ServerTransport reports which MCP transport the server was started with.
func (ap *ApiProvider) ServerTransport() string {
	return ap.serverTransport
}

// IsReady reports whether the tables cache has been warmed. Handlers that
// render cached data gate on it so they fail loudly instead of serving an
// empty cache while the warmup goroutine is still running. A provider with
// no default base has no cache to wait for and is always ready.
func (ap *ApiProvider) IsReady() (bool, error) {
	if ap.appToken == "" || ap.ready.Load() {
		return true, nil
	}
	return false, errors.New("tables cache is still warming up, please retry in a few seconds")
}

// RefreshFields refetches one table's field schema into the cache map.
func (ap *ApiProvider) RefreshFields(ctx context.Context, table lark.Table) error {
	client, err := ap.Provide()
	if err != nil {
		return err
	}

	fields, err := client.ListFields(ctx, ap.appToken, table.TableID)
	if err != nil {
		return err
	}

	ap.mu.Lock()
	ap.tables[table.TableID] = TableInfo{Table: table, Fields: fields}
	ap.mu.Unlock()
	return nil
}

// RefreshTables lists the configured base's tables, refreshes each table's
// field schema and rewrites the cache file. Field listings run concurrently,
// bounded so a wide base does not stampede the read quota. A successful
// refresh marks the provider ready.
func (ap *ApiProvider) RefreshTables(ctx context.Context) error {
	if ap.appToken == "" {
		return errors.New("no default app token configured")
	}

	client, err := ap.Provide()
	if err != nil {
		return err
	}

	tables, err := client.ListTables(ctx, ap.appToken)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, table := range tables {
		g.Go(func() error {
			return ap.RefreshFields(gctx, table)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	keep := make(map[string]bool, len(tables))
	for _, table := range tables {
		keep[table.TableID] = true
	}

	ap.mu.Lock()
	for id := range ap.tables {
		if !keep[id] {
			delete(ap.tables, id)
		}
	}
	infos := make([]TableInfo, 0, len(ap.tables))
	for _, info := range ap.tables {
		infos = append(infos, info)
	}
	ap.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Table.TableID < infos[j].Table.TableID
	})
	ap.ready.Store(true)

	if data, err := json.MarshalIndent(infos, "", "  "); err != nil {
		ap.logger.Error("Failed to marshal tables for cache", zap.Error(err))
	} else if err := os.WriteFile(ap.cache, data, 0o644); err != nil {
		ap.logger.Error("Failed to write cache file",
			zap.String("file", ap.cache),
			zap.Error(err),
		)
	} else {
		ap.logger.Info("Wrote tables cache",
			zap.Int("tables", len(infos)),
			zap.String("file", ap.cache),
		)
	}

	return nil
}

// LoadTablesCache seeds the in-memory table map from the cache file, if one
// exists, and marks the provider ready on success. Missing or unreadable
// caches are not an error.
func (ap *ApiProvider) LoadTablesCache() bool {
	data, err := os.ReadFile(ap.cache)
	if err != nil {
		return false
	}

	var infos []TableInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		ap.logger.Warn("Failed to unmarshal tables cache, will refetch",
			zap.String("file", ap.cache),
			zap.Error(err),
		)
		return false
	}

	ap.mu.Lock()
	ap.tables = make(map[string]TableInfo, len(infos))
	for _, info := range infos {
		ap.tables[info.Table.TableID] = info
	}
	ap.mu.Unlock()
	ap.ready.Store(true)

	ap.logger.Info("Loaded tables from cache",
		zap.Int("tables", len(infos)),
		zap.String("file", ap.cache),
	)
	return true
}

// ProvideTablesMap returns a copy of the cached table map.
func (ap *ApiProvider) ProvideTablesMap() map[string]TableInfo {
	ap.mu.RLock()
	defer ap.mu.RUnlock()

	out := make(map[string]TableInfo, len(ap.tables))
	for k, v := range ap.tables {
		out[k] = v
	}
	return out
}

// Logger returns the provider's logger for components that piggyback on it.
func (ap *ApiProvider) Logger() *zap.Logger {
	return ap.logger
}
