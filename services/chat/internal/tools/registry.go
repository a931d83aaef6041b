package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"charachat/pkg/domain"
	"charachat/pkg/plugin"
	"charachat/pkg/rag"
)

const (
	// SearchToolName is the built-in knowledge retrieval tool.
	SearchToolName = "search_knowledge_base"
	// NoResultsText is returned when retrieval finds nothing relevant, so
	// the model states ignorance instead of inventing an answer.
	NoResultsText = "no relevant information found"

	searchLimit = 5
)

// Tool couples a chat-completions function definition with its executor.
type Tool struct {
	Definition openai.Tool
	Invoke     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry is the per-turn tool set. Building it has no side effects; tools
// only act when invoked.
type Registry struct {
	order []string
	tools map[string]Tool
}

// Builder assembles registries from a character's knowledge scope and the
// user's active plugins.
type Builder struct {
	retriever *rag.Retriever
	sandbox   *plugin.Sandbox
	threshold float64
}

func NewBuilder(retriever *rag.Retriever, sandbox *plugin.Sandbox, threshold float64) *Builder {
	if threshold < 0 {
		threshold = rag.DefaultThreshold
	}
	return &Builder{retriever: retriever, sandbox: sandbox, threshold: threshold}
}

// Build returns the tool set for one generation turn. With no knowledge
// bases and no plugins the registry is empty and the model answers from its
// own weights.
func (b *Builder) Build(kbIDs []string, plugins []domain.Plugin) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	if len(kbIDs) > 0 && b.retriever != nil {
		r.add(b.searchTool(kbIDs))
	}
	if b.sandbox != nil {
		for _, p := range plugins {
			r.add(b.pluginTool(p))
		}
	}
	return r
}

func (r *Registry) add(name string, tool Tool) {
	if _, exists := r.tools[name]; exists {
		return
	}
	r.order = append(r.order, name)
	r.tools[name] = tool
}

// Len reports how many tools the registry holds.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions returns the tool definitions in build order.
func (r *Registry) Definitions() []openai.Tool {
	if len(r.order) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// Invoke runs the named tool with the model-provided JSON arguments.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	return tool.Invoke(ctx, args)
}

func (b *Builder) searchTool(kbIDs []string) (string, Tool) {
	scope := append([]string(nil), kbIDs...)
	def := openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        SearchToolName,
			Description: "Search the character's knowledge bases for passages relevant to a query. Use this before answering questions about the character's background or domain knowledge.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "What to look up, phrased as a standalone search query.",
					},
				},
				Required: []string{"query"},
			},
		},
	}
	invoke := func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("query argument required")
		}
		chunks, err := b.retriever.Search(ctx, query, scope, b.threshold, searchLimit)
		if err != nil {
			return "", err
		}
		if len(chunks) == 0 {
			return NoResultsText, nil
		}
		var sb strings.Builder
		for i, chunk := range chunks {
			fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, chunk.Content)
		}
		return strings.TrimSpace(sb.String()), nil
	}
	return SearchToolName, Tool{Definition: def, Invoke: invoke}
}

func (b *Builder) pluginTool(p domain.Plugin) (string, Tool) {
	name := toolName(p.Name)
	def := openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: p.Description,
			Parameters:  TranslateSchema(p.Schema),
		},
	}
	code := p.Code
	invoke := func(ctx context.Context, args map[string]any) (string, error) {
		return b.sandbox.Execute(ctx, code, args)
	}
	return name, Tool{Definition: def, Invoke: invoke}
}

// toolName normalizes a plugin name into a valid function identifier.
func toolName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "plugin"
	}
	return sb.String()
}
