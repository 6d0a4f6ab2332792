// ABOUTME: attach command: replays a thread, follows its live streams and reads user input
// ABOUTME: Snapshots are rendered as they arrive while the input loop drives engine callbacks

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/engine"
	"github.com/2389/coven-chat/internal/reconnect"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/transport"
)

func newAttachCmd(flags *globalFlags) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "attach <thread>",
		Short: "Open a thread, replay its history and follow it live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context(), flags, args[0], offline, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "replay from the local event log only")
	return cmd
}

func runAttach(ctx context.Context, flags *globalFlags, threadID string, offline bool, in io.Reader, out io.Writer) error {
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

	ecfg := engine.Config{
		ThreadID:  threadID,
		Thread:    cfg.ThreadOptions(),
		Reconnect: reconnect.Options{Policy: cfg.ReconnectPolicy()},
		Logger:    logger,
	}
	if offline {
		ecfg.History = log
	} else {
		client, token, err := newClient(cfg, logger)
		if err != nil {
			return err
		}
		ecfg.History = store.Tee(client, log, logger)
		ecfg.Status = client
		ecfg.Sender = client
		ecfg.Resume = client
		ecfg.Recorder = log
		ecfg.Transport = client
		if cfg.Gateway.Transport == config.TransportWebSocket {
			ecfg.Transport = transport.NewWebSocketTransport(cfg.Gateway.URL, token, logger)
		}
	}

	eng, err := engine.New(ecfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	snaps, _ := eng.Subscribe(ctx)
	go func() { runErr <- eng.Run(ctx) }()

	r := newRenderer(out)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for snap := range snaps {
			r.Render(snap)
		}
	}()

	fmt.Fprintf(out, "coven-chat attached to %s", threadID)
	if offline {
		fmt.Fprint(out, " (offline)")
	}
	fmt.Fprintln(out, ". /help for commands.")

	err = inputLoop(ctx, eng, in, out, runErr)
	cancel()
	<-rendered
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// inputLoop reads lines until EOF, /quit, cancellation or engine exit.
func inputLoop(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer, runErr <-chan error) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runErr:
			if err != nil {
				return fmt.Errorf("engine stopped: %w", err)
			}
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-lines:
			awaiting := eng.Snapshot().Interrupts.Awaiting
			err := dispatch(ctx, eng, line, awaiting, out)
			switch {
			case err == nil:
			case errors.Is(err, errQuit):
				return err
			case engine.IsRejection(err):
				fmt.Fprintln(os.Stderr, yellow.Sprint("[rejected] "+err.Error()))
			default:
				fmt.Fprintln(os.Stderr, red.Sprint("[error] "+err.Error()))
			}
		}
	}
}
