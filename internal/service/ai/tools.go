package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"inara/internal/config"
)

// InitWebSearch builds the web_search tool. Google is tried first when
// GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID are set, DuckDuckGo second.
// Every search call and page fetch is bounded by the provider timeout.
// Returns nil when neither provider can be constructed.
func InitWebSearch(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) tool.InvokableTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := searchTimeout(cfg)
	var providers []searchProvider
	if googleTool, err := InitGooglesearch(ctx); err != nil {
		logger.Warn("google search tool disabled", zap.Error(err))
	} else {
		providers = append(providers, searchProvider{name: "google", tool: googleTool})
	}
	if duckTool, err := InitDDGsearch(ctx, timeout); err != nil {
		logger.Warn("duckduckgo search tool disabled", zap.Error(err))
	} else {
		providers = append(providers, searchProvider{name: "duckduckgo", tool: duckTool})
	}
	if len(providers) == 0 {
		logger.Warn("web search tool disabled: no search providers available")
		return nil
	}
	return utils.NewTool(webSearchInfo, newWebSearchTool(providers, timeout, logger).run)
}

func searchTimeout(cfg config.ProviderConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return WebSearchHTTPTimeout
}

var webSearchInfo = &schema.ToolInfo{
	Name: "web_search",
	Desc: "Search the web for current clinical guidance or general information. " +
		"A URL as query returns the readable text of that page instead.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"query": {
			Desc:     "Natural language query, or an http(s) URL to read",
			Type:     schema.String,
			Required: true,
		},
	}),
}

type searchProvider struct {
	name string
	tool tool.InvokableTool
}

// webSearchTool tries each provider in order and returns the first result.
type webSearchTool struct {
	providers []searchProvider
	timeout   time.Duration
	client    *http.Client
	logger    *zap.Logger
}

func newWebSearchTool(providers []searchProvider, timeout time.Duration, logger *zap.Logger) *webSearchTool {
	if timeout <= 0 {
		timeout = WebSearchHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webSearchTool{
		providers: providers,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With(zap.String("tool", webSearchInfo.Name)),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", errEmptyQuery
	}
	query := strings.TrimSpace(params.Query)

	if target, ok := pageURL(query); ok {
		text, err := w.readPage(ctx, target)
		if err == nil {
			w.logger.Debug("page read", zap.String("url", target.String()), zap.Int("chars", len(text)))
			return text, nil
		}
		// fall through to a normal search for the address
		w.logger.Warn("page read failed, searching instead", zap.String("url", target.String()), zap.Error(err))
	}

	args, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	var errs []error
	for _, p := range w.providers {
		result, err := w.search(ctx, p, string(args))
		if err == nil {
			w.logger.Debug("search served", zap.String("provider", p.name))
			return result, nil
		}
		w.logger.Warn("search provider failed", zap.String("provider", p.name), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	if len(errs) == 0 {
		return "", errNoSearchResult
	}
	return "", fmt.Errorf("%w: %w", errNoSearchResult, errors.Join(errs...))
}

func (w *webSearchTool) search(ctx context.Context, p searchProvider, args string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return p.tool.InvokableRun(ctx, args)
}

// InitDDGsearch builds the DuckDuckGo text search tool (no token required).
func InitDDGsearch(ctx context.Context, timeout time.Duration) (tool.InvokableTool, error) {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("new duckduckgo tool: %w", err)
	}
	return duckTool, nil
}

// InitGooglesearch builds the Google custom search tool from the environment.
func InitGooglesearch(ctx context.Context) (tool.InvokableTool, error) {
	googleAPIKey := os.Getenv("GOOGLE_API_KEY")
	googleSearchEngineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if googleAPIKey == "" || googleSearchEngineID == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         googleAPIKey,
		SearchEngineID: googleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		return nil, fmt.Errorf("new google search tool: %w", err)
	}
	return googleTool, nil
}
