package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tributary-ai/request-router/internal/types"
)

var (
	version = "dev"
	commit  = "none"

	configPath  string // Path to the YAML configuration
	requestPath string // JSON routing request for the decide command
	checkHealth bool   // Probe endpoints before deciding
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "request-router",
	Short: "Routes work requests to the best available backend service",
	Long: `request-router scores registered backends on health, latency, cost,
capabilities and priority, and dispatches each request to the best one.

Environment Variables:
  REQUEST_ROUTER_PORT             Server port (default: 8080)
  REQUEST_ROUTER_LOG_LEVEL        Log level (debug,info,warn,error,fatal)
  REQUEST_ROUTER_LOG_FORMAT       Log format (json,text)
  REQUEST_ROUTER_HEALTH_INTERVAL  Health check interval (e.g. 30s)
  REQUEST_ROUTER_REDIS_URL        Shared rate limit store
  REQUEST_ROUTER_SIGNING_SECRET   Secret for signing backend calls
  OPENAI_API_KEY                  OpenAI API key
  ANTHROPIC_API_KEY               Anthropic API key
  AWS_REGION                      Bedrock region`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// serveCmd runs the HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the routing API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := NewApplication(ctx, configPath, true)
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
}

// decideCmd prints the routing decision for one request without dispatching it
var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Print the routing decision for a request",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(requestPath)
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}
		var req types.RoutingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse request: %w", err)
		}

		app, err := NewApplication(ctx, configPath, false)
		if err != nil {
			return err
		}
		if checkHealth {
			if err := app.router.CheckHealth(ctx); err != nil {
				return err
			}
		}

		decision, err := app.router.Decide(ctx, &req)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(decision)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "request-router %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	decideCmd.Flags().StringVar(&requestPath, "request", "", "Path to a JSON routing request")
	decideCmd.Flags().BoolVar(&checkHealth, "check-health", false, "Run one health check cycle before deciding")
	_ = decideCmd.MarkFlagRequired("request")

	rootCmd.AddCommand(serveCmd, decideCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
