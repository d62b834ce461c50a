// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/EvanMerlock/sports-record/pkg/media/segfile"

	"github.com/spf13/cobra"
)

// newInspectCmd creates the "sportsrec inspect" subcommand.
func newInspectCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "inspect <file> [file...]",
		Short: "Print the contents of segment files",
		Long:  "Print the header and the records of .seg segment files. Files\nwithout a trailer were not finalized.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				header, records, err := segfile.ReadFile(path)
				if header != nil {
					printSegment(cmd.OutOrStdout(), path, *header, records, verbose)
				}
				// Unfinalized files end without a trailer.
				if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
					return fmt.Errorf("inspect %v: %w", path, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every packet")
	return cmd
}

func printSegment(w io.Writer, path string, header segfile.Header, records []segfile.Record, verbose bool) {
	fmt.Fprintf(w, "%v: %v\n", path, header.Config)

	var packets, keys, flushes, bytes int
	finalized := false
	for _, r := range records {
		switch r.Kind {
		case segfile.KindPacket:
			packets++
			bytes += len(r.Packet.Payload)
			if r.Packet.Key {
				keys++
			}
			if verbose {
				fmt.Fprintf(w, "  packet pts=%d dts=%d size=%d key=%v\n",
					r.Packet.PTS, r.Packet.DTS, len(r.Packet.Payload), r.Packet.Key)
			}
		case segfile.KindFlush:
			flushes++
			if verbose {
				fmt.Fprintln(w, "  flush")
			}
		case segfile.KindTrailer:
			finalized = true
			if verbose {
				fmt.Fprintf(w, "  trailer packets=%d\n", r.PacketCount)
			}
		}
	}
	fmt.Fprintf(w, "  packets=%d keyframes=%d bytes=%d flushes=%d finalized=%v\n",
		packets, keys, bytes, flushes, finalized)
}
