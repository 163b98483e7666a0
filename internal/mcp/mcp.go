// Package mcp exposes the search pipeline as a Model Context Protocol tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/FranksOps/skein/internal/pipeline"
	"github.com/FranksOps/skein/internal/server"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ToolName is the name the search tool is listed under.
const ToolName = "rag-web-browser"

const toolDescription = "Web browser for LLMs and RAG pipelines. Searches the web for a query, " +
	"or fetches a single URL, and returns the content of the top pages as text, Markdown or HTML."

// Config configures the MCP surface.
type Config struct {
	Name    string
	Version string
	// Defaults fill the settings a caller leaves out.
	Defaults pipeline.Request
}

// Server answers MCP tool calls with a Searcher.
type Server struct {
	cfg      Config
	searcher server.Searcher
	logger   *slog.Logger
	mcp      *mcpserver.MCPServer
}

// New registers the search tool.
func New(cfg Config, searcher server.Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "skein"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	s := &Server{cfg: cfg, searcher: searcher, logger: logger}
	s.mcp = mcpserver.NewMCPServer(cfg.Name, cfg.Version, mcpserver.WithToolCapabilities(false))
	s.mcp.AddTool(searchTool(), s.call)
	return s
}

// ServeStdio speaks the protocol over in and out until ctx is done or in is
// closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func searchTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription(toolDescription),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Search query or a URL to fetch")),
		mcp.WithNumber("maxResults",
			mcp.Description("Number of top search results to fetch")),
		mcp.WithNumber("requestTimeoutSecs",
			mcp.Description("Overall time budget of the call in seconds")),
		mcp.WithArray("outputFormats",
			mcp.Description("Formats of the page content to return"),
			mcp.Items(map[string]any{"type": "string", "enum": []string{"text", "markdown", "html"}})),
		mcp.WithString("scrapingTool",
			mcp.Description("How content pages are loaded"),
			mcp.Enum(string(pipeline.ToolRawHTTP), string(pipeline.ToolBrowser))),
		mcp.WithString("htmlTransformer",
			mcp.Description("How the main content is picked out of a page"),
			mcp.Enum("none", "readableText", "trafilatura")),
		mcp.WithNumber("readableTextCharThreshold"),
		mcp.WithString("removeElementsCssSelector"),
		mcp.WithBoolean("removeCookieWarnings"),
		mcp.WithNumber("maxRequestRetries"),
		mcp.WithNumber("dynamicContentWaitSecs"),
		mcp.WithString("countryCode"),
		mcp.WithString("languageCode"),
		mcp.WithBoolean("debugMode"),
	)
}

// call never reports a protocol error: failures come back as a single
// content item carrying the message.
func (s *Server) call(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	s.logger.Info("tool call received", "tool", request.Params.Name, "query", args["query"])

	req, err := server.ParseRequest(values(args), s.cfg.Defaults)
	if err != nil {
		return s.failed(request, err)
	}
	outs, err := s.searcher.Handle(ctx, req)
	if err != nil {
		return s.failed(request, err)
	}
	return result(outs)
}

func (s *Server) failed(request mcp.CallToolRequest, err error) (*mcp.CallToolResult, error) {
	s.logger.Warn("tool call failed", "tool", request.Params.Name, "input_error", pipeline.IsInputError(err), "err", err)
	return result([]map[string]string{{"text": err.Error()}})
}

func result[T any](items []T) (*mcp.CallToolResult, error) {
	content := make([]mcp.Content, 0, len(items))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode tool output: %w", err)
		}
		content = append(content, mcp.NewTextContent(string(b)))
	}
	return &mcp.CallToolResult{Content: content}, nil
}

// values flattens tool arguments into the query parameters the HTTP surface
// accepts, so both share one parser.
func values(args map[string]any) url.Values {
	v := url.Values{}
	for k, raw := range args {
		switch a := raw.(type) {
		case nil:
		case string:
			v.Set(k, a)
		case bool:
			v.Set(k, strconv.FormatBool(a))
		case float64:
			v.Set(k, strconv.FormatFloat(a, 'f', -1, 64))
		case []any:
			parts := make([]string, 0, len(a))
			for _, p := range a {
				parts = append(parts, fmt.Sprint(p))
			}
			v.Set(k, strings.Join(parts, ","))
		default:
			v.Set(k, fmt.Sprint(a))
		}
	}
	return v
}
