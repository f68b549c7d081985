// ABOUTME: Entry point for the ui-kit relay server.
// ABOUTME: Fronts the Cortex workflow-execution API for embedded chat widgets.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/trycortexai/ui-kit/internal/config"
	"github.com/trycortexai/ui-kit/internal/relay"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _        _    _ _
  _   _(_)      | | _(_) |_
 | | | | |_____ | |/ /| | __|
 | |_| | |_____||   < | | |_
  \__,_|_|      |_|\_\|_|\__|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ui-kit-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the relay server")
		fmt.Println("  health    Check relay server health")
		os.Exit(1)
	}

	// Optional .env for local development; absence is not an error.
	godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the path to the server config file.
// Priority: UI_KIT_CONFIG env var > ./ui-kit.yaml
func getConfigPath() string {
	if envPath := os.Getenv("UI_KIT_CONFIG"); envPath != "" {
		return envPath
	}
	return "ui-kit.yaml"
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting ui-kit-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	server := relay.New(relay.Config{
		CortexBaseURL:  cfg.Cortex.BaseURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runHealth(ctx context.Context) error {
	addr := os.Getenv("UI_KIT_SERVER_URL")
	if addr == "" {
		addr = "http://localhost:3001"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err != nil || status.Status != "ok" {
		return fmt.Errorf("unhealthy: %s", strings.TrimSpace(string(body)))
	}

	color.Green("ok")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}
