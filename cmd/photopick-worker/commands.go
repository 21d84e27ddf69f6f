package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	photopick "github.com/anatolykoptev/go-photopick"
	"github.com/anatolykoptev/go-photopick/natsqueue"
)

func newProcessEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-event <event-id>",
		Short: "Score every unscored photo of an event in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline.ProcessEvent(cmd.Context(), args[0])
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func newSelectionCmd() *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "selection <event-id> <uploader-id>",
		Short: "Print an uploader's selection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var rows []photopick.Selection
			if recompute {
				rows, err = a.pipeline.RecomputeSelection(cmd.Context(), args[0], args[1])
			} else {
				rows, err = a.pipeline.Selection(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Rebuild the automatic rows before printing")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var sourceKey string
	cmd := &cobra.Command{
		Use:   "enqueue <photo|event> <id>",
		Short: "Publish a photo or event job to NATS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := natsqueue.Connect(a.cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer client.Close()
			if _, err := client.EnsureStream(cmd.Context()); err != nil {
				return err
			}

			pub := natsqueue.NewPublisher(client)
			switch args[0] {
			case "photo":
				return pub.PublishPhoto(cmd.Context(), natsqueue.PhotoJob{PhotoID: args[1], SourceKey: sourceKey})
			case "event":
				return pub.PublishEvent(cmd.Context(), args[1])
			default:
				return fmt.Errorf("unknown job kind %q (want photo or event)", args[0])
			}
		},
	}
	cmd.Flags().StringVar(&sourceKey, "source-key", "", "Storage key of the original (photo jobs)")
	return cmd
}

func printReport(w io.Writer, r *photopick.BatchReport) {
	fmt.Fprintf(w, "event %s: %d scored, %d failed\n", r.EventID, len(r.Scored), len(r.Failed))
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  failed %s: %v\n", id, r.Failed[id])
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "summary: %s\n", r.Summary)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
