package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/web"
)

const defaultMonitorURL = "http://localhost:5001"

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running monitor",
	Long: `Query a running 'blehr monitor' over HTTP and print its connection state,
the latest heart rate, statistics over the history window and the zone
distribution.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the sample history of a running monitor",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var (
	remoteURL     string
	remoteTimeout time.Duration
	statusJSON    bool
)

func init() {
	for _, c := range []*cobra.Command{statusCmd, clearCmd} {
		c.Flags().StringVar(&remoteURL, "url", defaultMonitorURL, "Base URL of the running monitor")
		c.Flags().DurationVar(&remoteTimeout, "timeout", 5*time.Second, "HTTP request timeout")
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status as JSON")
}

// remoteStatus mirrors the /api/status body with enum fields kept as their names.
type remoteStatus struct {
	Pipeline struct {
		Scanner       string            `json:"scanner"`
		Session       string            `json:"session"`
		Device        string            `json:"device"`
		Generation    uint64            `json:"generation"`
		Counters      pipeline.Counters `json:"counters"`
		HistoryLen    int               `json:"historyLength"`
		DroppedEvents int64             `json:"droppedEvents"`
	} `json:"pipeline"`
	Message *struct {
		Level string    `json:"level"`
		Text  string    `json:"text"`
		At    time.Time `json:"at"`
	} `json:"message,omitempty"`
}

// monitorClient talks to the HTTP endpoint of a running monitor.
type monitorClient struct {
	baseURL string
	http    *resty.Client
}

func newMonitorClient(baseURL string, timeout time.Duration) *monitorClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &monitorClient{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *monitorClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	return c.check(resp, err, path)
}

func (c *monitorClient) post(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Post(path)
	return c.check(resp, err, path)
}

func (c *monitorClient) check(resp *resty.Response, err error, path string) error {
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrServerUnreachable, c.baseURL, err)
	}
	if resp.IsError() {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
			return fmt.Errorf("%s %s: %s", resp.Request.Method, path, body.Error)
		}
		return fmt.Errorf("%s %s: %s", resp.Request.Method, path, http.StatusText(resp.StatusCode()))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	client := newMonitorClient(remoteURL, remoteTimeout)
	ctx := cmd.Context()

	var (
		st    remoteStatus
		stats web.StatsResponse
		hr    web.HeartRateResponse
	)
	if err := client.get(ctx, "/api/status", &st); err != nil {
		return err
	}
	if err := client.get(ctx, "/api/stats", &stats); err != nil {
		return err
	}
	if err := client.get(ctx, "/api/heartrate", &hr); err != nil {
		return err
	}

	if statusJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{
			"status":    st,
			"stats":     stats,
			"heartrate": hr,
		})
	}
	return printStatus(cmd.OutOrStdout(), st, stats, hr)
}

func printStatus(w io.Writer, st remoteStatus, stats web.StatsResponse, hr web.HeartRateResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	session := st.Pipeline.Session
	if st.Pipeline.Device != "" {
		session = fmt.Sprintf("%s (%s)", session, st.Pipeline.Device)
	}
	fmt.Fprintf(tw, "Scanner:\t%s\n", st.Pipeline.Scanner)
	fmt.Fprintf(tw, "Session:\t%s\n", session)
	if hr.HeartRate > 0 {
		fmt.Fprintf(tw, "Heart rate:\t%d BPM (%s, %s) at %s\n", hr.HeartRate, stats.Zone, stats.Status, hr.Timestamp.Local().Format("15:04:05"))
	} else {
		fmt.Fprintf(tw, "Heart rate:\tno data\n")
	}
	fmt.Fprintf(tw, "Average / Max / Min:\t%d / %d / %d over %d samples\n", stats.Average, stats.Max, stats.Min, stats.Count)

	c := st.Pipeline.Counters
	fmt.Fprintf(tw, "Samples:\t%d (%d decode errors)\n", c.Samples, c.DecodeErrors)
	fmt.Fprintf(tw, "Connections:\t%d attempts, %d subscribed, %d failed, %d link losses\n", c.Attempts, c.Subscriptions, c.Failures, c.LinkLosses)
	if st.Pipeline.DroppedEvents > 0 {
		fmt.Fprintf(tw, "Dropped radio events:\t%d\n", st.Pipeline.DroppedEvents)
	}
	if st.Message != nil {
		fmt.Fprintf(tw, "Last status:\t%s %s\n", st.Message.At.Local().Format("15:04:05"), st.Message.Text)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if stats.Zones == nil || stats.Zones.Len() == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ZONE\tSAMPLES")
	for pair := stats.Zones.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "%s\t%d\n", pair.Key, pair.Value)
	}
	return tw.Flush()
}

func runClear(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	client := newMonitorClient(remoteURL, remoteTimeout)
	if err := client.post(cmd.Context(), "/api/history/clear"); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
	return nil
}
