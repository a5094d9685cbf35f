package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend-livetrack/internal/auth"
	"backend-livetrack/internal/tracking"

	"github.com/spf13/cobra"
)

// newQueueCmd inspects the durable queue directly. The daemon holds the
// store lock, so it must be stopped first.
func newQueueCmd(deps mainDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List or clear pending updates in the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			drop, _ := cmd.Flags().GetBool("clear")

			cfg := deps.loadConfig()
			store, err := deps.openStore(cfg)
			if err != nil {
				return fmt.Errorf("open local store (is the daemon running?): %w", err)
			}
			defer store.Close()

			q := tracking.NewQueue(store, nil)
			if drop {
				n := q.Len()
				if err := q.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d pending updates\n", n)
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(q.Snapshot())
		},
	}
	cmd.Flags().Bool("clear", false, "Drop every pending update")
	return cmd
}

func newStatusCmd(deps mainDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")
			cfg := deps.loadConfig()
			if addr == "" {
				addr = cfg.ServerPort
			}
			if token == "" && cfg.ControlSecret != "" {
				issued, err := auth.IssueToken(cfg.ControlSecret, "livetrackd-cli", time.Minute)
				if err != nil {
					return err
				}
				token = issued
			}

			req, err := http.NewRequest(http.MethodGet, baseURL(addr)+"/tracking/status", nil)
			if err != nil {
				return err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query daemon: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	cmd.Flags().String("addr", "", "Daemon address (default SERVER_PORT)")
	cmd.Flags().String("token", "", "Bearer token (default: issued from CONTROL_SECRET)")
	return cmd
}

func newTokenCmd(deps mainDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the host control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, _ := cmd.Flags().GetString("host")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := auth.IssueToken(deps.loadConfig().ControlSecret, host, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("host", "host-app", "Name of the host application")
	cmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "Token lifetime; 0 for no expiry")
	return cmd
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
