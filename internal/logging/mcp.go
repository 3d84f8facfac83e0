package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for MCP server mode.
//
// The MCP protocol uses stdout exclusively for JSON-RPC framing; any stray
// write to stdout or stderr corrupts the stream and disconnects the client.
// In this mode logs therefore go to the log file only.
func SetupMCPMode(level, filePath string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      filePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("mcp.logging.ready",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}
