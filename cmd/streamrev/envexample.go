package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envPrefix = "STREAMREV"

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# StreamRev Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	generateSpotifySection(&content, cmd)
	generateSection(&content, cmd, "Browser Configuration", []string{
		"browser-mode",
		"browser-exec-path",
		"browser-remote-url",
		"browser-download-dir",
		"browser-no-sandbox",
		"navigation-timeout",
	})
	generateSection(&content, cmd, "Page Scan", []string{
		"settle-timeout",
		"selector-playcount",
		"selector-track-row",
		"selector-track-name",
		"selector-row-count",
		"primary-pick",
	})
	generateSection(&content, cmd, "Concurrency and Limits", []string{
		"max-sessions",
		"session-wait",
		"flood-limit-per-minute",
	})
	generateSection(&content, cmd, "HTTP Server Configuration", []string{
		"server-host",
		"server-port",
	})
	generateSection(&content, cmd, "Logging Configuration", []string{
		"log-level",
		"log-format",
	})

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func generateSpotifySection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# SPOTIFY CONFIGURATION - Required for metadata and tokens\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("# Get these from https://developer.spotify.com/dashboard\n")
	content.WriteString("# Play counts are scraped and work without credentials.\n")
	content.WriteString("\n")

	fmt.Fprintf(content, "%s=your_spotify_client_id_here          # Spotify app client ID\n",
		flagToEnvVar("spotify-client-id"))
	fmt.Fprintf(content, "%s=your_spotify_client_secret_here  # Spotify app client secret\n",
		flagToEnvVar("spotify-client-secret"))
	writeFlag(content, cmd, "metadata-cache-size")
	writeFlag(content, cmd, "metadata-cache-ttl")
	content.WriteString("\n")
}

func generateSection(content *strings.Builder, cmd *cobra.Command, title string, flags []string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString("# -----------------------------------------------------------------------------\n")

	for _, name := range flags {
		writeFlag(content, cmd, name)
	}
	content.WriteString("\n")
}

func writeFlag(content *strings.Builder, cmd *cobra.Command, name string) {
	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		flag = cmd.Root().PersistentFlags().Lookup(name)
	}
	if flag == nil {
		return
	}

	fmt.Fprintf(content, "# %s (default: %s)\n", flag.Usage, flag.DefValue)
	fmt.Fprintf(content, "%s=%s\n", flagToEnvVar(name), envValue(flag.DefValue))
}

// envValue single-quotes values that would not survive unquoted in a .env file.
func envValue(value string) string {
	if strings.ContainsAny(value, " \"#=[]") && !strings.Contains(value, "'") {
		return "'" + value + "'"
	}
	return value
}
