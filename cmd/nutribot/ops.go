package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Operational subcommands that exercise a running API server.

func newSubmitCmd() *cobra.Command {
	var userID int64
	var capturedAt string
	cmd := &cobra.Command{
		Use:   "submit <photo-file>",
		Short: "Submit a food photo for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			if err := writer.WriteField("user_id", strconv.FormatInt(userID, 10)); err != nil {
				return err
			}
			if capturedAt != "" {
				if _, err := time.Parse(time.RFC3339, capturedAt); err != nil {
					return fmt.Errorf("--captured-at must be RFC3339: %w", err)
				}
				if err := writer.WriteField("captured_at", capturedAt); err != nil {
					return err
				}
			}
			part, err := writer.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if _, err := part.Write(data); err != nil {
				return err
			}
			if err := writer.Close(); err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, apiBase+"/photos", body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", writer.FormDataContentType())
			return doJSON(req)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id to record against")
	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "Capture timestamp (RFC3339, defaults to receipt time)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the status of an analysis request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.Context(), apiBase+"/photos/"+url.PathEscape(args[0]))
		},
	}
}

func newReportCmd() *cobra.Command {
	var userID int64
	var date, from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch a daily or range report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			query := url.Values{}
			query.Set("user_id", strconv.FormatInt(userID, 10))
			switch {
			case from != "" && to != "":
				query.Set("from", from)
				query.Set("to", to)
				return getJSON(cmd.Context(), apiBase+"/reports/range?"+query.Encode())
			case date != "":
				query.Set("date", date)
				return getJSON(cmd.Context(), apiBase+"/reports/daily?"+query.Encode())
			default:
				query.Set("date", time.Now().Format(time.DateOnly))
				return getJSON(cmd.Context(), apiBase+"/reports/daily?"+query.Encode())
			}
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id to report on")
	cmd.Flags().StringVar(&date, "date", "", "Day for a daily report (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&from, "from", "", "Range start day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Range end day (YYYY-MM-DD)")
	return cmd
}

func getJSON(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return doJSON(req)
}

func doJSON(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
