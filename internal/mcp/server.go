package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/searchme/internal/embed"
	"github.com/Aman-CERP/searchme/internal/index"
	"github.com/Aman-CERP/searchme/internal/query"
	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/pkg/version"
)

// ServerName is reported to clients during initialization.
const ServerName = "searchme"

// Limits for the search tool.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// Server exposes the query engine to MCP clients. It never writes to the
// index, so it can run next to a watching indexer.
type Server struct {
	mcp      *mcp.Server
	engine   *query.Engine
	metadata store.MetadataStore
	vectors  store.VectorStore
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewServer creates a server over open stores.
func NewServer(engine *query.Engine, metadata store.MetadataStore, vectors store.VectorStore, embedder embed.Embedder) (*Server, error) {
	if engine == nil {
		return nil, errors.New("query engine is required")
	}
	if metadata == nil || vectors == nil {
		return nil, errors.New("stores are required")
	}

	s := &Server{
		engine:   engine,
		metadata: metadata,
		vectors:  vectors,
		embedder: embedder,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the user's indexed local files (documents, PDFs, spreadsheets, audio tags, images). Returns the best matching chunks with file paths and scores.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the indexed files using the local language model. Falls back to a list of matching files when the model is not running.",
	}, s.mcpAskHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report what is indexed: file and chunk counts, types, last run and the embedding model in use.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 3))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	reqID := generateRequestID()
	start := time.Now()

	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := input.Limit
	switch {
	case limit < 0:
		return nil, SearchOutput{}, NewInvalidParamsError("limit must not be negative")
	case limit == 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}

	res, err := s.engine.Retrieve(ctx, input.Query, limit)
	if err != nil {
		if errors.Is(err, query.ErrNoRelevantContent) {
			return nil, SearchOutput{Results: []SearchResultOutput{}}, nil
		}
		s.logger.Warn("mcp_search_failed", slog.String("request_id", reqID), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Results = append(out.Results, toResultOutput(h))
	}

	s.logger.Info("mcp_search",
		slog.String("request_id", reqID),
		slog.Int("results", len(out.Results)),
		slog.Duration("duration", time.Since(start)))
	return nil, out, nil
}

func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if input.Question == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question parameter is required")
	}
	if input.Limit < 0 {
		return nil, AskOutput{}, NewInvalidParamsError("limit must not be negative")
	}

	ans, err := s.engine.Query(ctx, input.Question, nil, min(input.Limit, MaxSearchLimit))
	if err != nil {
		if errors.Is(err, query.ErrNoRelevantContent) {
			return nil, AskOutput{Answer: "No matching files found.", Sources: []string{}}, nil
		}
		return nil, AskOutput{}, MapError(err)
	}

	out := AskOutput{Answer: ans.Text, Fallback: ans.Fallback, Sources: []string{}}
	seen := make(map[string]bool, len(ans.Hits))
	for _, h := range ans.Hits {
		if !seen[h.Record.Path] {
			seen[h.Record.Path] = true
			out.Sources = append(out.Sources, h.Record.Path)
		}
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	st, err := s.metadata.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}

	out := &IndexStatusOutput{
		Status: "ready",
		Roots:  index.Roots(ctx, s.metadata),
		Stats: IndexStats{
			FileCount:   st.Files,
			RecordCount: st.Records,
			VectorCount: s.vectors.Count(),
			TotalBytes:  st.Bytes,
			ByType:      st.ByType,
		},
	}
	if out.Roots == nil {
		out.Roots = []string{}
	}
	if out.Stats.ByType == nil {
		out.Stats.ByType = map[string]int{}
	}
	if st.Records == 0 {
		out.Status = "empty"
	}
	if !st.LastIndexed.IsZero() {
		out.Stats.LastIndexed = st.LastIndexed.UTC().Format(time.RFC3339)
	}
	out.Stats.LastRun, _ = s.metadata.GetState(ctx, store.StateKeyLastRun)

	if s.embedder != nil {
		info := embed.GetInfo(ctx, s.embedder)
		out.Embeddings = EmbeddingInfo{
			Provider:   info.Provider.String(),
			Model:      info.Model,
			Dimensions: info.Dimensions,
			Available:  info.Available,
		}
	}
	return out, nil
}

// Serve runs the server on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func toResultOutput(h query.Hit) SearchResultOutput {
	rec := h.Record
	return SearchResultOutput{
		Path:       rec.Path,
		Score:      float64(h.Score),
		Snippet:    rec.Snippet,
		Section:    rec.Section,
		Type:       rec.Type,
		Attributes: rec.Attributes,
	}
}

func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
