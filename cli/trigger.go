package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	gosse "github.com/tmaxmax/go-sse"

	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sse"
)

// maxFrameSize bounds one SSE event read from the server.
const maxFrameSize = 4 << 20

// NewTriggerCmd creates the "trigger" subcommand.
func NewTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger a call summary on a running server and follow its progress",
		Args:  cobra.NoArgs,
		RunE:  runTrigger,
	}

	cmd.Flags().String("url", "http://localhost:8080", "Base URL of the callstream server")
	cmd.Flags().StringP("input-file", "f", "", "Gong webhook JSON (ignored by servers in demo mode)")
	cmd.Flags().String("format", "auto", "Output format: auto | text | json")
	cmd.Flags().Bool("no-stream", false, "Only start the workflow, do not follow its progress")
	cmd.Flags().Duration("timeout", 15*time.Minute, "Client-side timeout")

	return cmd
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	body, err := readWebhookBody(cmd)
	if err != nil {
		return err
	}
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	baseURL, _ := cmd.Flags().GetString("url")
	endpoint := strings.TrimRight(baseURL, "/") + "/api/gong-webhook"
	noStream, _ := cmd.Flags().GetBool("no-stream")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return exitError(exitValidation, "invalid --url: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "callstream-cli/"+Version)
	if noStream {
		req.Header.Set("Accept", "application/json")
	} else {
		// Always ask for JSON frames; text rendering happens here so the
		// outcome can be read from the events.
		req.Header.Set("Accept", "text/event-stream")
		q := req.URL.Query()
		q.Set("format", string(sse.ModeJSON))
		req.URL.RawQuery = q.Encode()
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return triggerTransportError(ctx, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiErrorExit(resp)
	}

	if noStream {
		var out struct {
			Message string `json:"message"`
			CallID  string `json:"callId"`
			RunID   string `json:"runId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return exitError(exitRuntime, "decoding response: %v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (call %s, run %s)\n", out.Message, out.CallID, out.RunID)
		return nil
	}

	outcome, sentinel, err := followStream(resp.Body, cmd.OutOrStdout(), format)
	if err != nil {
		return triggerTransportError(ctx, timeout, err)
	}
	switch {
	case sentinel == sse.SentinelTimeout:
		return exitError(exitTimeout, "server stopped streaming before the workflow finished")
	case outcome == runtime.OutcomeFailure:
		return exitError(exitFailed, "workflow failed")
	case sentinel == "":
		return exitError(exitRuntime, "stream ended without an end-of-stream marker")
	}
	return nil
}

// followStream copies events from an SSE body to out until the sentinel.
// It returns the last detected outcome and the sentinel seen, if any.
func followStream(body io.Reader, out io.Writer, format sse.Mode) (runtime.Outcome, sse.Sentinel, error) {
	detector := sse.DefaultDetector()
	text := sse.Formatter{Mode: sse.ModeText}
	outcome := runtime.OutcomeNone

	for ev, err := range gosse.Read(body, &gosse.ReadConfig{MaxEventSize: maxFrameSize}) {
		if err != nil {
			return outcome, "", err
		}
		for _, s := range []sse.Sentinel{sse.SentinelDone, sse.SentinelTimeout} {
			if ev.Data == s.Payload() {
				return outcome, s, nil
			}
		}

		var e runtime.LogEvent
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			// Not an event record; show it as-is.
			fmt.Fprintln(out, ev.Data)
			continue
		}
		if o := detector.Detect(e); o != runtime.OutcomeNone {
			outcome = o
		}
		if format == sse.ModeJSON {
			fmt.Fprintln(out, ev.Data)
			continue
		}
		rendered, err := text.Format(e)
		if err != nil {
			return outcome, "", err
		}
		fmt.Fprintln(out, rendered)
	}
	return outcome, "", nil
}

func readWebhookBody(cmd *cobra.Command) ([]byte, error) {
	path, _ := cmd.Flags().GetString("input-file")
	if path == "" {
		return []byte("{}"), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return nil, exitError(exitFileNotFound, "reading input file: %v", err)
	}
	if !json.Valid(data) {
		return nil, exitError(exitInputParse, "input file %s is not valid JSON", path)
	}
	return data, nil
}

// outputFormat resolves --format. auto renders text on a terminal and JSON
// lines otherwise.
func outputFormat(cmd *cobra.Command) (sse.Mode, error) {
	format, _ := cmd.Flags().GetString("format")
	if format == "auto" {
		if f, ok := cmd.OutOrStdout().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			return sse.ModeText, nil
		}
		return sse.ModeJSON, nil
	}
	mode, ok := sse.ParseMode(format)
	if !ok {
		return "", exitError(exitValidation, "unknown format %q (use auto, text, or json)", format)
	}
	return mode, nil
}

func apiErrorExit(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string   `json:"code"`
			Message string   `json:"message"`
			Details []string `json:"details"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return exitError(exitRuntime, "server returned %s", resp.Status)
	}

	msg := fmt.Sprintf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	if len(envelope.Error.Details) > 0 {
		msg += " (" + strings.Join(envelope.Error.Details, ", ") + ")"
	}
	switch envelope.Error.Code {
	case "CONFIG_ERROR":
		return exitError(exitConfig, "%s", msg)
	case "PARSE_ERROR", "BODY_TOO_LARGE":
		return exitError(exitInputParse, "%s", msg)
	default:
		return exitError(exitRuntime, "%s", msg)
	}
}

func triggerTransportError(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exitError(exitTimeout, "no result after %s", timeout)
	}
	return exitError(exitRuntime, "request failed: %v", err)
}
