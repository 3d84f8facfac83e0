// Package logging provides file-based structured logging with rotation for
// cindex. Logs are JSON lines written to ~/.cindex/logs/ so that MCP serve
// mode can keep stdout/stderr clean for the protocol stream.
package logging
