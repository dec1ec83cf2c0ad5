// Package cmd provides the daybook CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE reply streaming
//   - migrate: apply pending database migrations
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the daybook application.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Daybook - AI journaling companion")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  daybook serve [addr]  Start the HTTP API server (default: localhost:8080)")
	fmt.Println("  daybook migrate       Apply pending database migrations")
	fmt.Println("  daybook --version     Show version information")
	fmt.Println("  daybook --help        Show this help")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  ~/.daybook/config.yaml          Main configuration file")
	fmt.Println("  DATABASE_URL                    Postgres connection override")
	fmt.Println("  DAYBOOK_ADDR                    Server address override")
	fmt.Println("  DAYBOOK_ACTIVE_MODEL            Fallback model override")
	fmt.Println("  DAYBOOK_LOG_LEVEL               Log level (debug, info, warn, error)")
	fmt.Println()
	fmt.Println("API keys for cloud providers are kept in the secret store,")
	fmt.Println("never in the configuration file.")
}
