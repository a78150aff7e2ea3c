package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onnwee/live-recorder/monitor"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorder status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.api().Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			color := shouldColorize(out)

			if st.Running {
				fmt.Fprintln(out, renderStatusLine("Monitoring", statusOK, "running for "+st.Uptime, color))
			} else {
				fmt.Fprintln(out, renderStatusLine("Monitoring", statusWarn, "stopped", color))
			}
			if st.Identity != "" {
				fmt.Fprintln(out, renderStatusLine("Account", statusOK, st.Identity, color))
			} else {
				fmt.Fprintln(out, renderStatusLine("Account", statusWarn, "anonymous", color))
			}
			usable := st.Cookies.Plaintext + st.Cookies.Decrypted
			cookieKind := statusOK
			if usable == 0 {
				cookieKind = statusError
			} else if st.Cookies.Failed > 0 || len(st.Cookies.Warnings) > 0 {
				cookieKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Cookies", cookieKind, fmt.Sprintf("%d usable, %d failed", usable, st.Cookies.Failed), color))
			fmt.Fprintln(out, renderStatusLine("Rooms", statusInfo, fmt.Sprintf("%d monitored, %d live, %d recording", st.Rooms, st.Live, st.Recording), color))
			if st.Captures != nil {
				limit := "unlimited"
				if st.Captures.Limit > 0 {
					limit = humanize.Comma(int64(st.Captures.Limit))
				}
				fmt.Fprintln(out, renderStatusLine("Captures", statusInfo, fmt.Sprintf("%d in use of %s", st.Captures.InUse, limit), color))
				for _, h := range st.Captures.Sessions {
					fmt.Fprintf(out, "    %s  %s  started %s\n", h.RoomID, h.OutputPath, formatAgo(h.StartedAt))
				}
			}
			if len(st.RoomList) > 0 {
				fmt.Fprint(out, renderRooms(st.RoomList))
			}
			return nil
		},
	}
}

func newRoomsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List monitored rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := ctx.api().Rooms(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, rooms)
			}
			if len(rooms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rooms monitored")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRooms(rooms))
			return nil
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <room-url-or-id>",
		Short: "Start monitoring a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := ctx.api().AddRoom(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, snap)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added room %s (%s)\n", snap.RoomID, snap.StatusText)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name used in output file names")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <room-id>",
		Aliases: []string{"rm"},
		Short:   "Stop monitoring a room, ending any recording",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := monitor.ExtractRoomID(args[0])
			if err := ctx.api().RemoveRoom(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed room %s\n", id)
			return nil
		},
	}
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <room-id>",
		Short: "Open a preview window on the recorder host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := monitor.ExtractRoomID(args[0])
			if err := ctx.api().Preview(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preview started for %s\n", id)
			return nil
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start monitoring every room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.api().StartAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Monitoring started")
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop monitoring and end every recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.api().StopAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Monitoring stopped")
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var count int
	var rooms []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow room state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			want := make(map[string]bool, len(rooms))
			for _, r := range rooms {
				want[monitor.ExtractRoomID(r)] = true
			}
			seen := 0
			var werr error
			err := ctx.api().Events(cmd.Context(), func(s monitor.Snapshot) bool {
				if len(want) > 0 && !want[s.RoomID] {
					return true
				}
				if ctx.jsonOutput() {
					werr = writeJSON(cmd, s)
				} else {
					_, werr = fmt.Fprintln(out, strings.TrimRight(renderRoomEvent(s, time.Now(), color), " "))
				}
				seen++
				return werr == nil && (count <= 0 || seen < count)
			})
			if werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 follows forever)")
	cmd.Flags().StringSliceVar(&rooms, "room", nil, "Only show these rooms (repeatable)")
	return cmd
}
