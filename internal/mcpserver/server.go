// Package mcpserver exposes the context store to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/tree"
)

// ChunkFormatURI is the resource URI of the chunk format contract.
const ChunkFormatURI = "ctxstore://chunk-format"

// storeWait bounds how long store_insight waits when asked to.
const storeWait = 10 * time.Second

// Server wraps the MCP server with the context store tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *service.Service
	store *chunkstore.Store
	tree  *tree.Manager
}

// New creates the MCP server with every tool registered.
func New(svc *service.Service, store *chunkstore.Store, tm *tree.Manager, version string) *Server {
	s := &Server{svc: svc, store: store, tree: tm}

	s.mcp = server.NewMCPServer(
		"ctxstore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	s.mcp.AddTool(mcp.NewTool("retrieve_context",
		mcp.WithDescription("Find stored project knowledge relevant to a prompt. "+
			"When instructions are given, the context block is appended to them and the combined text is returned."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user request or task to find context for")),
		mcp.WithString("instructions", mcp.Description("Optional instructions to append the context block to")),
		mcp.WithNumber("limit", mcp.Description("Max chunks to consider (default 6)")),
	), s.retrieveContext)

	s.mcp.AddTool(mcp.NewTool("store_insight",
		mcp.WithDescription("Store one durable insight in the taxonomy. "+
			"Read get_chunk_format or the "+ChunkFormatURI+" resource for valid categories first."),
		mcp.WithString("category", mcp.Required(), mcp.Description("Top-level category, e.g. SOLUTIONS")),
		mcp.WithString("subcategory", mcp.Required(), mcp.Description("Subcategory within the category, e.g. bug_fixes")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The insight, at most 300 characters are kept")),
		mcp.WithString("keywords", mcp.Required(), mcp.Description("Comma-separated relevance keywords")),
		mcp.WithNumber("confidence", mcp.Description("Confidence in [0,1] (default 0.7)")),
		mcp.WithString("source", mcp.Description("user_prompt (default) or reasoning_stream")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the write and return the chunk id")),
	), s.storeInsight)

	s.mcp.AddTool(mcp.NewTool("context_stats",
		mcp.WithDescription("Index and directory statistics for the context store."),
	), s.contextStats)

	s.mcp.AddTool(mcp.NewTool("validate_tree",
		mcp.WithDescription("Check that every category and subcategory directory exists."),
		mcp.WithBoolean("repair", mcp.Description("Create missing directories before reporting")),
	), s.validateTree)

	s.mcp.AddTool(mcp.NewTool("get_chunk_format",
		mcp.WithDescription("Returns the chunk file format and the category taxonomy."),
	), s.getChunkFormat)

	s.mcp.AddResource(
		mcp.NewResource(ChunkFormatURI, "Chunk Format",
			mcp.WithResourceDescription("On-disk chunk format and the fixed category taxonomy."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readChunkFormatResource,
	)

	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) retrieveContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Enhance(ctx, service.EnhanceRequest{
		Prompt:       prompt,
		Instructions: req.GetString("instructions", ""),
		Limit:        intArg(req, "limit", 0),
	})
	if !res.Success {
		return mcp.NewToolResultText("No stored context applies: " + res.Summary), nil
	}
	if req.GetString("instructions", "") != "" {
		return mcp.NewToolResultText(res.Instructions), nil
	}
	block, _, _ := service.FormatContext(res.Chunks)
	return mcp.NewToolResultText(block), nil
}

func (s *Server) storeInsight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in models.Insight
	var err error
	if in.Category, err = req.RequireString("category"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.Subcategory, err = req.RequireString("subcategory"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.Content, err = req.RequireString("content"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	keywords, err := req.RequireString("keywords")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in.Keywords = splitList(keywords)
	in.Confidence = floatArg(req, "confidence", 0.7)

	source := models.Source(req.GetString("source", string(models.SourceUserPrompt)))
	if !source.Valid() {
		return mcp.NewToolResultError("source must be user_prompt or reasoning_stream"), nil
	}

	task, err := s.store.Store(ctx, []models.Insight{in}, source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !boolArg(req, "wait", false) {
		return mcp.NewToolResultText(fmt.Sprintf("queued: task %s", task.ID)), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, storeWait)
	defer cancel()
	res, err := task.Wait(waitCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task %s still pending: %v", task.ID, err)), nil
	}
	if res.Err != nil {
		return mcp.NewToolResultError(res.Err.Error()), nil
	}
	return mcp.NewToolResultText("stored: " + strings.Join(res.IDs, ", ")), nil
}

func (s *Server) contextStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts, err := s.tree.Stats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"root":  s.tree.Root(),
		"index": s.store.Stats(),
		"tree":  ts,
	})
}

func (s *Server) validateTree(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if boolArg(req, "repair", false) {
		s.tree.RepairTree(nil)
	}
	return jsonResult(s.tree.ValidateTree())
}

func (s *Server) getChunkFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ChunkFormatContract()), nil
}

func (s *Server) readChunkFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ChunkFormatURI,
			MIMEType: "text/markdown",
			Text:     ChunkFormatContract(),
		},
	}, nil
}
