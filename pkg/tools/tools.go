// Package tools defines the closed set of tools subagent tasks may use and
// resolves tool names to concrete handles. Unknown names are rejected when a
// plan is validated, before any model call is made.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kestrel-eng/feasgen/pkg/llm"
)

// Name identifies one tool from the fixed enumeration.
type Name string

const (
	NameKnowledgeSearch Name = "knowledge_search"
	NameWebSearch       Name = "web_search"
	NameCatalogLookup   Name = "catalog_lookup"
)

// KnownNames returns the fixed tool enumeration in stable order.
func KnownNames() []Name {
	return []Name{NameKnowledgeSearch, NameWebSearch, NameCatalogLookup}
}

// ValidateNames rejects any name outside the fixed enumeration.
func ValidateNames(names []string) error {
	var unknown []string
	for _, n := range names {
		switch Name(n) {
		case NameKnowledgeSearch, NameWebSearch, NameCatalogLookup:
		default:
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown tool names: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// searchArgsSchema is the shared argument shape for all tools.
var searchArgsSchema = map[string]any{
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The search query in natural language",
		},
		"limit": map[string]any{
			"type":        "integer",
			"description": "Maximum number of results to return (default 5)",
		},
	},
	"required": []string{"query"},
}

// specs maps each tool name to its model-facing definition.
var specs = map[Name]llm.ToolSpec{
	NameKnowledgeSearch: {
		Name:        string(NameKnowledgeSearch),
		Description: "Search the internal engineering knowledge base for prior feasibility studies, process data sheets and design notes. Use this for questions the uploaded documents do not answer.",
		InputSchema: searchArgsSchema,
	},
	NameWebSearch: {
		Name:        string(NameWebSearch),
		Description: "Search the public web for regulations, market data and vendor information. Results are formatted text snippets with source URLs.",
		InputSchema: searchArgsSchema,
	},
	NameCatalogLookup: {
		Name:        string(NameCatalogLookup),
		Description: "Look up equipment and materials in the product catalog: capacities, ratings and indicative pricing.",
		InputSchema: searchArgsSchema,
	},
}

// Searcher executes one tool's query. All tools take the same
// {query, limit} argument shape.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (string, error)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Logger          *slog.Logger
	KnowledgeSearch Searcher
	WebSearch       Searcher
	CatalogLookup   Searcher
}

// Registry resolves tool names to concrete handles. Handles are registered
// once at process start; resolution is read-only afterwards.
type Registry struct {
	log      *slog.Logger
	handlers map[Name]Searcher
}

// NewRegistry creates a Registry. Every tool in the enumeration must have a
// handle; a partially wired registry would fail tasks at execution time
// instead of validation time.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if cfg.KnowledgeSearch == nil {
		return nil, errors.New("knowledge search handle is required")
	}
	if cfg.WebSearch == nil {
		return nil, errors.New("web search handle is required")
	}
	if cfg.CatalogLookup == nil {
		return nil, errors.New("catalog lookup handle is required")
	}
	return &Registry{
		log: cfg.Logger,
		handlers: map[Name]Searcher{
			NameKnowledgeSearch: cfg.KnowledgeSearch,
			NameWebSearch:       cfg.WebSearch,
			NameCatalogLookup:   cfg.CatalogLookup,
		},
	}, nil
}

// Specs returns the model-facing tool definitions for the given names.
// Names must already have passed ValidateNames.
func (r *Registry) Specs(names []string) ([]llm.ToolSpec, error) {
	if err := ValidateNames(names); err != nil {
		return nil, err
	}
	out := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		out = append(out, specs[Name(n)])
	}
	return out, nil
}

// Executor returns a dispatcher restricted to the given subset of tools.
func (r *Registry) Executor(names []string) (llm.ToolExecutor, error) {
	if err := ValidateNames(names); err != nil {
		return nil, err
	}
	allowed := make(map[Name]Searcher, len(names))
	for _, n := range names {
		allowed[Name(n)] = r.handlers[Name(n)]
	}
	return &dispatcher{log: r.log, allowed: allowed}, nil
}

const defaultSearchLimit = 5

// dispatcher routes model tool calls to the allowed handles.
type dispatcher struct {
	log     *slog.Logger
	allowed map[Name]Searcher
}

func (d *dispatcher) CallTool(ctx context.Context, name string, input map[string]any) (string, bool, error) {
	handler, ok := d.allowed[Name(name)]
	if !ok {
		// The plan validator guarantees this cannot happen for planned
		// tools; the model requested a tool outside its grant.
		return fmt.Sprintf("tool %q is not available to this task", name), true, nil
	}

	query, _ := input["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "query argument is required", true, nil
	}
	limit := defaultSearchLimit
	if f, ok := input["limit"].(float64); ok && f > 0 {
		limit = int(f)
	}

	if d.log != nil {
		d.log.Debug("tools: executing", "tool", name, "query", query, "limit", limit)
	}

	out, err := handler.Search(ctx, query, limit)
	if err != nil {
		return "", false, llm.NewError(llm.ErrorToolExecution, fmt.Errorf("%s: %w", name, err))
	}
	return out, false, nil
}
