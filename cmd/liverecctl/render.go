package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/onnwee/live-recorder/monitor"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render() + "\n"
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiGray   = "\x1b[90m"
)

const statusLabelWidth = 14

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "INFO"
	color := ""
	switch kind {
	case statusOK:
		tag, color = "OK", ansiGreen
	case statusWarn:
		tag, color = "WARN", ansiYellow
	case statusError:
		tag, color = "ERROR", ansiRed
	}
	line := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", tag)
	if message != "" {
		line += " " + message
	}
	if colorize && color != "" {
		return color + line + ansiReset
	}
	return line
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// phaseColor maps a room's status color to ANSI.
func phaseColor(color string) string {
	switch color {
	case "green":
		return ansiGreen
	case "red":
		return ansiRed
	default:
		return ansiGray
	}
}

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func roomName(s monitor.Snapshot) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.RoomID
}

func buildRoomRows(rooms []monitor.Snapshot) [][]string {
	rows := make([][]string, 0, len(rooms))
	for _, s := range rooms {
		rec := yesNo(s.Recording)
		if s.LaunchFailed {
			rec = "failed"
		}
		rows = append(rows, []string{s.RoomID, roomName(s), s.StatusText, rec, s.Title, formatAgo(s.CheckedAt)})
	}
	return rows
}

func renderRooms(rooms []monitor.Snapshot) string {
	return renderTable(
		[]string{"Room", "Name", "Status", "Recording", "Title", "Checked"},
		buildRoomRows(rooms),
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

// renderRoomEvent is one line of `watch` output.
func renderRoomEvent(s monitor.Snapshot, at time.Time, colorize bool) string {
	line := fmt.Sprintf("%s  %-12s %-20s %-8s", at.Format("15:04:05"), s.RoomID, roomName(s), s.StatusText)
	if s.Recording {
		line += " recording " + s.OutputPath
	} else if s.Diagnostic != "" && s.ConsecutiveFailures > 0 {
		line += " " + s.Diagnostic
	}
	if colorize {
		return phaseColor(s.StatusColor) + line + ansiReset
	}
	return line
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
