package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolStoreMemory    = "store_memory"
	ToolListMemories   = "list_memories"
	ToolSearchMemories = "search_memories"
)

// Service exposes the memory service as MCP tools
type Service struct {
	memory  *memory.UseCase
	version string
}

// New creates a new MCP service
func New(memoryUC *memory.UseCase, version string) *Service {
	return &Service{
		memory:  memoryUC,
		version: version,
	}
}

// Handler returns a streamable HTTP handler. It must be mounted behind
// authentication that stores the agent in the request context. Sessions are
// stateless so that every request is bound to the agent of its own credential.
func (s *Service) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		agent := auth.AgentFrom(r.Context())
		if agent == nil {
			return nil
		}
		return s.NewServer(agent)
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

type storeMemoryArgs struct {
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  model.Metadata `json:"metadata,omitempty"`
}

type listMemoriesArgs struct {
	Limit *int `json:"limit,omitempty"`
}

type searchMemoriesArgs struct {
	Query     string    `json:"query,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Limit     *int      `json:"limit,omitempty"`
	Threshold *float64  `json:"threshold,omitempty"`
}

// NewServer builds an MCP server whose tools act on behalf of agent
func (s *Service) NewServer(agent *model.Agent) *mcp.Server {
	cfg := s.memory.Config()
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "recall",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolStoreMemory,
		Description: "Store a memory for the calling agent",
		InputSchema: storeMemorySchema(cfg.Dimension),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args *storeMemoryArgs) (*mcp.CallToolResult, any, error) {
		record, err := s.memory.Store(ctx, agent, memory.StoreInput{
			Content:   args.Content,
			Embedding: args.Embedding,
			Metadata:  args.Metadata,
		})
		if err != nil {
			return toolError(ctx, err), nil, nil
		}
		return toolResult(ctx, map[string]any{"memory": record}), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListMemories,
		Description: "List the most recent memories of the calling agent",
		InputSchema: listMemoriesSchema(cfg.MaxLimit),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args *listMemoriesArgs) (*mcp.CallToolResult, any, error) {
		records, err := s.memory.List(ctx, agent, memory.ListInput{Limit: args.Limit})
		if err != nil {
			return toolError(ctx, err), nil, nil
		}
		if records == nil {
			records = []*model.MemoryRecord{}
		}
		return toolResult(ctx, map[string]any{"memories": records}), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSearchMemories,
		Description: "Find memories of the calling agent similar to a query text or embedding",
		InputSchema: searchMemoriesSchema(cfg.Dimension, cfg.MaxLimit),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args *searchMemoriesArgs) (*mcp.CallToolResult, any, error) {
		results, err := s.memory.Search(ctx, agent, memory.SearchInput{
			Query:     args.Query,
			Embedding: args.Embedding,
			Limit:     args.Limit,
			Threshold: args.Threshold,
		})
		if err != nil {
			return toolError(ctx, err), nil, nil
		}
		if results == nil {
			results = []*model.SearchResult{}
		}
		return toolResult(ctx, map[string]any{"results": results}), nil, nil
	})

	return server
}

func toolResult(ctx context.Context, v any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return toolError(ctx, goerr.Wrap(err, "failed to encode tool result"))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
}

// toolError converts err into a tool level error. Only validation messages are
// shown to the caller.
func toolError(ctx context.Context, err error) *mcp.CallToolResult {
	msg := "internal error"
	switch {
	case goerr.HasTag(err, model.ErrTagValidation):
		if detail, ok := model.ValidationDetail(err); ok {
			msg = "invalid request: " + detail.Field + ": " + detail.Message
		}
	case goerr.HasTag(err, model.ErrTagEmbeddingUnavailable):
		msg = "embedding provider unavailable"
		logging.From(ctx).Warn("tool call failed", logging.ErrAttr(err))
	default:
		logging.From(ctx).Error("tool call failed", logging.ErrAttr(err))
	}

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
