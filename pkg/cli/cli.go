package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information (injected at compile time via ldflags)
var (
	Version = "dev"
	Release = "false" // "true" in release builds
)

// Endpoints - edit these to change where the CLI points
const (
	prodGatewayHTTP  = "https://api.relaychat.dev"
	localGatewayHTTP = "http://localhost:1994"
)

var (
	gatewayHTTPAddr string
	authToken       string
	pluginName      string
)

func defaultHTTPAddr() string {
	if Release == "true" {
		return prodGatewayHTTP
	}
	return localGatewayHTTP
}

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Relay chat client and gateway",
	Long:          BrandStyle.Render("relay") + " — streaming assistant chat with a sandboxed terminal.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s version %s\n", BrandStyle.Render("relay"), Version))

	rootCmd.PersistentFlags().StringVar(&gatewayHTTPAddr, "gateway", getEnv("RELAY_GATEWAY", defaultHTTPAddr()), "Gateway HTTP address")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", getEnv("RELAY_TOKEN", ""), "Authentication token")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
