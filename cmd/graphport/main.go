package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/avolkov/graphport/internal/app"
	"github.com/avolkov/graphport/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "graphport",
	Short: "Microsoft Graph web portal",
	Long: `A server-rendered web portal that signs users in with OIDC and calls
the Microsoft Graph API on their behalf.

The portal handles the OAuth2 authorization code flow with PKCE, caches
tokens in server-side sessions, and exposes pages for reading the user
profile, sending mail, and managing To Do tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web portal",
	Long: `Start the web server.

The server:
  - Performs OIDC provider discovery at startup
  - Serves the login / callback / logout flow
  - Proxies Graph API calls for authenticated sessions`,
	RunE: runServe,
}

// overrideExitCode is set by subcommands (check-config) so main() can call
// os.Exit() after cobra finishes.  This avoids calling os.Exit() inside RunE
// which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the server.

Checks for:
  - Valid YAML syntax
  - Required fields present
  - Valid URLs

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "graphport.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Optional .env file loaded before reading the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads the optional .env file and then the YAML configuration.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return config.Load(configFile)
}

// runServe starts the web server
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)

	slog.Info("starting graphport",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	a, err := app.New(cfg, version)
	if err != nil {
		slog.Error("failed to create application", "error", err)
		return fmt.Errorf("failed to create application: %w", err)
	}

	return a.Run()
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("graphport version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	// Print configuration summary (with secrets redacted)
	fmt.Println("✅ Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  OIDC Issuer:     %s\n", cfg.OIDC.Issuer)
	fmt.Printf("  Client ID:       %s\n", cfg.OIDC.ClientID)
	fmt.Printf("  Redirect URI:    %s\n", cfg.OIDC.RedirectURI)
	fmt.Printf("  Scopes:          %v\n", cfg.OIDC.Scopes)
	fmt.Printf("  Graph Endpoint:  %s\n", cfg.Graph.Endpoint)
	fmt.Printf("  HTTP Listen:     %s\n", cfg.Listen.HTTP)
	fmt.Printf("  Session Store:   %s\n", cfg.Session.Store)
	fmt.Printf("  Session Timeout: %d seconds\n", cfg.Session.Timeout)
	fmt.Printf("  Log Level:       %s\n", cfg.Log.Level)
	fmt.Printf("  Log Format:      %s\n", cfg.Log.Format)
	fmt.Printf("  TLS Enabled:     %v\n", cfg.TLS.Enabled)

	if cfg.OIDC.ClientSecret != "" {
		fmt.Println("\n  Client Secret:   [SET]")
	} else {
		fmt.Println("\n  Client Secret:   [NOT SET] (public client with PKCE)")
	}

	fmt.Println("\n✅ Ready to start server")

	return nil
}
