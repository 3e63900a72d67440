// Package main implements silentctl, a command-line client for the
// silent-protocol HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/silent-protocol/internal/api"
)

var (
	// serverURL is the base URL of the silent-protocol server
	serverURL string
	// sessionID selects the alias session; empty uses the default session
	sessionID  string
	outputJSON bool
	version    = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "silentctl",
		Short: "CLI for the silent-protocol sanitising proxy",
		Long: `silentctl talks to a running silent-protocol server. It sends prompts
through the sanitiser and shows what was replaced before the upstream model
saw them.

Examples:
  # Chat through the sanitiser
  silentctl chat "Email John Smith at john@acme.com about the Q3 report"

  # Inspect the aliases of a session
  silentctl aliases --session 6f1c...`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "silent-protocol server URL")
	root.PersistentFlags().StringVar(&sessionID, "session", "", "session id (defaults to the shared default session)")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON responses")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "Check server health",
			Args:  cobra.NoArgs,
			RunE:  runHealth,
		},
		&cobra.Command{
			Use:   "session",
			Short: "Create a new alias session and print its id",
			Args:  cobra.NoArgs,
			RunE:  runSession,
		},
		&cobra.Command{
			Use:   "chat [message]",
			Short: "Send a message through the sanitiser to the upstream model",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runChat,
		},
		&cobra.Command{
			Use:   "sanitize [text]",
			Short: "Replace sensitive entities without calling the model",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runSanitize,
		},
		&cobra.Command{
			Use:   "desanitize [text]",
			Short: "Restore the session's aliases in text",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runDesanitize,
		},
		&cobra.Command{
			Use:   "aliases",
			Short: "List the session's alias mapping",
			Args:  cobra.NoArgs,
			RunE:  runAliases,
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear the session's aliases",
			Args:  cobra.NoArgs,
			RunE:  runReset,
		},
	)
	return root
}

// readInput takes the first argument, or stdin when it is absent or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("no input text")
	}
	return text, nil
}

// call sends body (when non-nil) as JSON and decodes the response into out.
func call(method, path string, body, out any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 180 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Message)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return raw, nil
}

func printRaw(cmd *cobra.Command, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var resp api.HealthResponse
	raw, err := call(http.MethodGet, "/health", nil, &resp)
	if err != nil {
		return err
	}
	if outputJSON {
		return printRaw(cmd, raw)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\nSanitize: %t\nUpstream endpoints: %d\nSessions: %d\n",
		resp.Status, resp.Sanitize, resp.Upstream, resp.Sessions)
	return nil
}

func runSession(cmd *cobra.Command, _ []string) error {
	var resp api.SessionResponse
	if _, err := call(http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.SessionID)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	msg, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	var resp api.ChatResponse
	raw, err := call(http.MethodPost, "/chat", api.ChatRequest{Message: msg, SessionID: sessionID}, &resp)
	if err != nil {
		return err
	}
	if outputJSON {
		return printRaw(cmd, raw)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Sent upstream: %s\n", resp.SanitizedPrompt)
	printEntities(cmd, resp.Entities)
	fmt.Fprintf(w, "Privacy score: %d (%s)\n\n", resp.PrivacyScore.Score, resp.PrivacyScore.RiskLevel)
	fmt.Fprintln(w, resp.Response)
	return nil
}

func runSanitize(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	var resp api.SanitizeResponse
	raw, err := call(http.MethodPost, "/sanitize", api.TextRequest{Text: text, SessionID: sessionID}, &resp)
	if err != nil {
		return err
	}
	if outputJSON {
		return printRaw(cmd, raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Sanitized)
	printEntities(cmd, resp.Entities)
	fmt.Fprintf(cmd.OutOrStdout(), "Privacy score: %d (%s)\n", resp.PrivacyScore.Score, resp.PrivacyScore.RiskLevel)
	return nil
}

func runDesanitize(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	var resp api.DesanitizeResponse
	raw, err := call(http.MethodPost, "/desanitize", api.TextRequest{Text: text, SessionID: sessionID}, &resp)
	if err != nil {
		return err
	}
	if outputJSON {
		return printRaw(cmd, raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return nil
}

func runAliases(cmd *cobra.Command, _ []string) error {
	path := "/aliases"
	if sessionID != "" {
		path += "?session_id=" + sessionID
	}
	var resp api.AliasesResponse
	raw, err := call(http.MethodGet, path, nil, &resp)
	if err != nil {
		return err
	}
	if outputJSON {
		return printRaw(cmd, raw)
	}

	w := cmd.OutOrStdout()
	if resp.Total == 0 {
		fmt.Fprintln(w, "No aliases.")
		return nil
	}
	reals := make([]string, 0, len(resp.Aliases))
	for real := range resp.Aliases {
		reals = append(reals, real)
	}
	sort.Strings(reals)
	for _, real := range reals {
		fmt.Fprintf(w, "%s -> %s\n", real, resp.Aliases[real])
	}
	fmt.Fprintf(w, "Total: %d\n", resp.Total)
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	var resp api.ResetResponse
	if _, err := call(http.MethodPost, "/reset", api.ResetRequest{SessionID: sessionID}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func printEntities(cmd *cobra.Command, entities []api.Entity) {
	w := cmd.OutOrStdout()
	if len(entities) == 0 {
		fmt.Fprintln(w, "No entities detected.")
		return
	}
	fmt.Fprintf(w, "Entities (%d):\n", len(entities))
	for _, e := range entities {
		fmt.Fprintf(w, "  [%s] %-12s %q -> %q\n", e.Tier, e.Label, e.Text, e.Alias)
	}
}
