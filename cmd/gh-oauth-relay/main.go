package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/gh-oauth-relay/internal"
	"github.com/dgellow/gh-oauth-relay/internal/config"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"github.com/dgellow/gh-oauth-relay/internal/telemetry"
)

var BuildVersion = "dev"

func printIssues(title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Printf("  - %s\n", issue.Message)
		}
	}
}

// validateEnv loads the configuration from the environment and prints every
// problem found, the way a linter would.
func validateEnv() error {
	fmt.Println("Validating environment configuration")

	result := &config.ValidationResult{}
	cfg, err := config.LoadFromEnv()
	switch {
	case err == nil:
		result = config.Validate(cfg)
	case errors.As(err, &result):
	default:
		fmt.Printf("\nErrors (1):\n  - %v\n", err)
		fmt.Println("\nResult: FAIL")
		return err
	}

	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: FAIL (warnings present)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func main() {
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	validate := flag.Bool("validate", false, "validate environment configuration and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Configuration is read from the environment (GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET, BACKEND_URL, ...).")
		fmt.Fprintln(flag.CommandLine.Output())
		flag.PrintDefaults()
	}
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *validate {
		if err := validateEnv(); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.LogError("Failed to configure logging: %v", err)
		os.Exit(1)
	}
	for _, w := range config.Validate(cfg).Warnings {
		log.LogWarnWithFields("config", w.Message, map[string]any{"key": w.Path})
	}

	log.LogInfoWithFields("main", "Starting gh-oauth-relay", map[string]any{
		"version":     BuildVersion,
		"environment": cfg.Environment,
	})

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, BuildVersion)
	if err != nil {
		log.LogError("Failed to setup tracing: %v", err)
		os.Exit(1)
	}

	relay, err := internal.NewRelay(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create relay: %v", err)
		os.Exit(1)
	}

	runErr := relay.Run(ctx)
	if err := shutdownTracing(context.Background()); err != nil {
		log.LogWarn("Failed to flush traces: %v", err)
	}
	if runErr != nil {
		log.LogError("Server stopped with error: %v", runErr)
		os.Exit(1)
	}
}
