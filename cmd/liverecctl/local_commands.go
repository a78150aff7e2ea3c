package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onnwee/live-recorder/app"
	"github.com/onnwee/live-recorder/monitor"
	"github.com/onnwee/live-recorder/stream"
)

func newCookiesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cookies",
		Short: "Extract browser cookies and report what was recovered (values are never shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, rep, err := app.LoadCredentials(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"report": rep, "names": store.Names()})
			}
			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			kind := statusOK
			if rep.Plaintext+rep.Decrypted == 0 {
				kind = statusError
			} else if rep.Failed > 0 {
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Cookies", kind, fmt.Sprintf("%d records, %d plaintext, %d decrypted, %d failed", rep.Total, rep.Plaintext, rep.Decrypted, rep.Failed), color))
			for _, w := range rep.Warnings {
				fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, color))
			}
			if len(rep.FailedNames) > 0 {
				fmt.Fprintln(out, renderStatusLine("Failed", statusWarn, fmt.Sprint(rep.FailedNames), color))
			}
			if store.Len() == 0 {
				return nil
			}
			rows := make([][]string, 0, store.Len())
			for _, name := range store.Names() {
				v, _ := store.Get(name)
				rows = append(rows, []string{name, humanize.Bytes(uint64(len(v)))})
			}
			fmt.Fprint(out, renderTable([]string{"Cookie", "Size"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account the browser session belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := ctx.platform(cmd.Context(), true, warnTo(cmd))
			if err != nil {
				return err
			}
			me, err := client.Me(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, me)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", me.Nickname)
			return nil
		},
	}
}

func newPushCredsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "push-creds",
		Short: "Fetch the account's RTMP push URL and stream key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := ctx.platform(cmd.Context(), true, warnTo(cmd))
			if err != nil {
				return err
			}
			pc, err := client.PushCredentials(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, pc)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:     %s\n", pc.PushURL)
			fmt.Fprintf(out, "Stream key: %s\n", pc.Key)
			return nil
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <room-url-or-id>",
		Short: "Resolve a room once and print its liveness and stream URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := monitor.ExtractRoomID(args[0])
			if id == "" {
				return monitor.ErrEmptyRoomID
			}
			client, _, err := ctx.platform(cmd.Context(), false, warnTo(cmd))
			if err != nil {
				return err
			}
			info := stream.NewResolver(client).Resolve(cmd.Context(), id)
			if ctx.jsonOutput() {
				return writeJSON(cmd, info)
			}
			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			switch {
			case info.Failed():
				fmt.Fprintln(out, renderStatusLine(id, statusError, monitor.ClassifyFailure(info).String()+": "+info.Diagnostic, color))
			case info.IsLive:
				fmt.Fprintln(out, renderStatusLine(id, statusOK, "live via "+string(info.Strategy), color))
			default:
				fmt.Fprintln(out, renderStatusLine(id, statusInfo, "offline", color))
			}
			if info.OwnerName != "" {
				fmt.Fprintf(out, "Owner:  %s\n", info.OwnerName)
			}
			if info.Title != "" {
				fmt.Fprintf(out, "Title:  %s\n", info.Title)
			}
			if info.StreamURL != "" {
				fmt.Fprintf(out, "Stream: %s\n", info.StreamURL)
			}
			return nil
		},
	}
}

func warnTo(cmd *cobra.Command) func(string) {
	return func(msg string) {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: "+msg)
	}
}
