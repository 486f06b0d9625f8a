package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/FreePeak/database-mcp-server/internal/config"
	"github.com/FreePeak/database-mcp-server/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of a transport
const ShutdownTimeout = 5 * time.Second

const (
	httpEndpoint    = "/mcp"
	sseEndpoint     = "/sse"
	messageEndpoint = "/message"
)

// Transport defines the interface for server transport implementations
type Transport interface {
	// Serve blocks until the transport stops. A transport stopped through
	// ctx or Shutdown returns nil.
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// StdioTransport speaks MCP over standard input/output
type StdioTransport struct {
	stdio  *mcpserver.StdioServer
	reader io.Reader
	writer io.Writer
}

// NewStdioTransport creates a new stdio transport on os.Stdin and os.Stdout
func NewStdioTransport(s *mcpserver.MCPServer) *StdioTransport {
	return newStdioTransport(s, os.Stdin, os.Stdout)
}

func newStdioTransport(s *mcpserver.MCPServer, r io.Reader, w io.Writer) *StdioTransport {
	stdio := mcpserver.NewStdioServer(s)
	// stdout carries protocol messages only
	stdio.SetErrorLogger(logger.StdLogger())
	return &StdioTransport{stdio: stdio, reader: r, writer: w}
}

// Serve reads requests until the input ends or ctx is cancelled
func (t *StdioTransport) Serve(ctx context.Context) error {
	err := t.stdio.Listen(ctx, t.reader, t.writer)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Shutdown is a no-op: the stdio loop ends with its context
func (t *StdioTransport) Shutdown(context.Context) error {
	return nil
}

// HTTPTransport serves the streamable HTTP transport at /mcp
type HTTPTransport struct {
	addr       string
	httpServer *http.Server
	streamable *mcpserver.StreamableHTTPServer
}

// NewHTTPTransport creates a streamable HTTP transport listening on addr
func NewHTTPTransport(s *mcpserver.MCPServer, addr string) *HTTPTransport {
	mux := http.NewServeMux()
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	streamable := mcpserver.NewStreamableHTTPServer(s,
		mcpserver.WithEndpointPath(httpEndpoint),
		mcpserver.WithStreamableHTTPServer(httpServer),
		mcpserver.WithLogger(logger.WithField("transport", "http")),
	)
	mux.Handle(httpEndpoint, streamable)

	return &HTTPTransport{addr: addr, httpServer: httpServer, streamable: streamable}
}

// Handler exposes the HTTP handler, mainly for tests
func (t *HTTPTransport) Handler() http.Handler {
	return t.httpServer.Handler
}

// Serve listens until Shutdown is called
func (t *HTTPTransport) Serve(context.Context) error {
	logger.Info("Streamable HTTP transport listening on http://%s%s", t.addr, httpEndpoint)
	if err := t.streamable.Start(t.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http transport: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	return t.streamable.Shutdown(ctx)
}

// SSETransport serves the SSE transport: events at /sse, requests at /message
type SSETransport struct {
	addr string
	sse  *mcpserver.SSEServer
}

// NewSSETransport creates an SSE transport listening on addr. baseURL is the
// externally visible URL announced to clients for the message endpoint.
func NewSSETransport(s *mcpserver.MCPServer, addr, baseURL string) *SSETransport {
	httpServer := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	sse := mcpserver.NewSSEServer(s,
		mcpserver.WithBaseURL(baseURL),
		mcpserver.WithSSEEndpoint(sseEndpoint),
		mcpserver.WithMessageEndpoint(messageEndpoint),
		mcpserver.WithHTTPServer(httpServer),
	)
	httpServer.Handler = sse

	return &SSETransport{addr: addr, sse: sse}
}

// Handler exposes the HTTP handler, mainly for tests
func (t *SSETransport) Handler() http.Handler {
	return t.sse
}

// Serve listens until Shutdown is called
func (t *SSETransport) Serve(context.Context) error {
	logger.Info("SSE transport listening on http://%s%s", t.addr, sseEndpoint)
	if err := t.sse.Start(t.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("sse transport: %w", err)
	}
	return nil
}

// Shutdown closes open event streams and stops the listener
func (t *SSETransport) Shutdown(ctx context.Context) error {
	return t.sse.Shutdown(ctx)
}

// NewTransport picks the transport named by cfg.TransportMode
func NewTransport(cfg *config.Config, s *mcpserver.MCPServer) (Transport, error) {
	switch strings.ToLower(cfg.TransportMode) {
	case "stdio":
		return NewStdioTransport(s), nil
	case "http":
		return NewHTTPTransport(s, cfg.Address()), nil
	case "sse":
		return NewSSETransport(s, cfg.Address(), baseURL(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q (expected stdio, http or sse)", cfg.TransportMode)
	}
}

// baseURL is the address clients reach the server at. Wildcard hosts are
// announced as localhost.
func baseURL(cfg *config.Config) string {
	host := cfg.ServerHost
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.ServerPort)
}

// Run serves on t until ctx is cancelled or the transport fails, then shuts
// it down within ShutdownTimeout.
func Run(ctx context.Context, t Transport) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.Serve(ctx)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("Transport stopped: %v", serveErr)
		}
	case <-ctx.Done():
		logger.Info("Shutting down transport")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := t.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown: %w", err))
	}
	return serveErr
}
