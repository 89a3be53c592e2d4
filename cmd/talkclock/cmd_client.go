/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	clientAddr  string
	clientToken string
	playLoop    bool
	queueFade   time.Duration
)

// apiClient talks to a running "talkclock serve".
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient() *apiClient {
	base := strings.TrimRight(clientAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	token := clientToken
	if token == "" {
		token = os.Getenv("TALKCLOCK_TOKEN")
	}
	return &apiClient{base: base, token: token, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out io.Writer) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func clientCommand(use, short string, args cobra.PositionalArgs, run func(c *apiClient, cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(newAPIClient(), cmd, args)
		},
	}
}

func init() {
	playCmd := clientCommand("play <path>", "Play a file now", cobra.ExactArgs(1), func(c *apiClient, cmd *cobra.Command, args []string) error {
		return c.do(cmd.Context(), http.MethodPost, "/play", map[string]any{"path": args[0], "loop": playLoop}, cmd.OutOrStdout())
	})
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "Repeat until stopped")

	queueCmd := clientCommand("queue <path>", "Queue a file after the current one", cobra.ExactArgs(1), func(c *apiClient, cmd *cobra.Command, args []string) error {
		return c.do(cmd.Context(), http.MethodPost, "/queue", map[string]any{"path": args[0], "fade_ms": queueFade.Milliseconds()}, cmd.OutOrStdout())
	})
	queueCmd.Flags().DurationVar(&queueFade, "fade", 0, "Wait for the current file to finish plus this gap")

	simple := func(use, short, method, path string) *cobra.Command {
		return clientCommand(use, short, cobra.NoArgs, func(c *apiClient, cmd *cobra.Command, _ []string) error {
			return c.do(cmd.Context(), method, path, nil, cmd.OutOrStdout())
		})
	}

	volumeCmd := clientCommand("volume [percent|up|down]", "Show or change the volume", cobra.MaximumNArgs(1), func(c *apiClient, cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			return c.do(cmd.Context(), http.MethodGet, "/status", nil, out)
		}
		switch args[0] {
		case "up":
			return c.do(cmd.Context(), http.MethodPost, "/volume/up", nil, out)
		case "down":
			return c.do(cmd.Context(), http.MethodPost, "/volume/down", nil, out)
		}
		pct, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("volume must be a percentage, up or down: %q", args[0])
		}
		return c.do(cmd.Context(), http.MethodPut, "/volume", map[string]int{"volume": pct}, out)
	})

	existsCmd := clientCommand("exists <path>", "Ask the decoder whether a file is present", cobra.ExactArgs(1), func(c *apiClient, cmd *cobra.Command, args []string) error {
		return c.do(cmd.Context(), http.MethodGet, "/exists?path="+url.QueryEscape(args[0]), nil, cmd.OutOrStdout())
	})

	cmds := []*cobra.Command{
		playCmd,
		queueCmd,
		volumeCmd,
		existsCmd,
		simple("pause", "Pause playback", http.MethodPost, "/pause"),
		simple("resume", "Resume playback", http.MethodPost, "/resume"),
		simple("stop", "Stop playback and drop queued media", http.MethodPost, "/stop"),
		simple("clear", "Drop queued commands", http.MethodPost, "/clear"),
		simple("status", "Show the controller snapshot", http.MethodGet, "/status"),
	}
	for _, c := range cmds {
		c.Flags().StringVar(&clientAddr, "addr", "127.0.0.1:8380", "Control API address")
		c.Flags().StringVar(&clientToken, "token", "", "Bearer token (default $TALKCLOCK_TOKEN)")
		rootCmd.AddCommand(c)
	}
}
