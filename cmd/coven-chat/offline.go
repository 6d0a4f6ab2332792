// ABOUTME: replay, status and threads commands: read-only views of a thread
// ABOUTME: replay rebuilds a document from the local event log without contacting the gateway

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/engine"
	"github.com/2389/coven-chat/internal/replay"
	"github.com/2389/coven-chat/internal/thread"
)

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <thread>",
		Short: "Rebuild a thread from the local event log and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), flags, args[0], asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the document as JSON")
	return cmd
}

func runReplay(ctx context.Context, flags *globalFlags, threadID string, asJSON bool, out io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg.Logging)
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not set, nothing is recorded locally")
	}

	log, err := openLog(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer log.Close()

	opts := cfg.ThreadOptions()
	opts.Logger = logger
	th := thread.New(threadID, opts)
	res, err := replay.New(th, nil, logger).Run(ctx, log, threadID)
	if err != nil {
		return err
	}
	th.Finalize()

	if asJSON {
		data, err := th.Document().MarshalIndent()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	newRenderer(out).Render(&engine.Snapshot{
		ThreadID:  threadID,
		Document:  th.Document(),
		Connected: true,
	})
	fmt.Fprintln(out)
	fmt.Fprintln(out, dim.Sprintf("%d events, %d applied, %d malformed, %d unresolved",
		res.Events, res.Applied, res.Malformed, len(res.Unresolved)))
	if !res.Complete {
		fmt.Fprintln(out, yellow.Sprint("history ended without replay_done"))
	}
	return nil
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <thread>",
		Short: "Ask the gateway whether a thread can be resumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := stderrLogger(cfg.Logging)
			client, _, err := newClient(cfg, logger)
			if err != nil {
				return err
			}

			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("querying status: %w", err)
			}
			out := cmd.OutOrStdout()
			if st.CanReconnect {
				fmt.Fprintln(out, green.Sprint("resumable"))
			} else {
				fmt.Fprintln(out, dim.Sprint("finished"))
			}
			for _, key := range st.ActiveTaskKeys {
				fmt.Fprintf(out, "  active task %s\n", key)
			}
			return nil
		},
	}
}

func newThreadsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List threads recorded in the local event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := stderrLogger(cfg.Logging)
			log, err := openLog(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer log.Close()

			threads, err := log.Threads(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "THREAD\tEVENTS\tLAST EVENT\tUPDATED")
			for _, t := range threads {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.ID, t.Events, t.LastEventID, t.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}
