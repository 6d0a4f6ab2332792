// ABOUTME: Slash command parsing and dispatch for the interactive attach loop
// ABOUTME: Interrupt ids may be omitted when exactly one decision is awaited

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

var errQuit = errors.New("quit")

// chatEngine is the part of the engine the input loop drives.
type chatEngine interface {
	SendMessage(ctx context.Context, content string) error
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id, feedback string) error
	Answer(ctx context.Context, id, text string) error
	Skip(ctx context.Context, id string) error
	OpenTask(ctx context.Context, key string) error
	CloseTask(ctx context.Context) error
}

// slashCommand is one parsed line of input. Plain text has an empty name.
type slashCommand struct {
	name string
	args string
}

func parseInput(input string) slashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return slashCommand{args: input}
	}
	name, args, _ := strings.Cut(input[1:], " ")
	return slashCommand{name: strings.ToLower(name), args: strings.TrimSpace(args)}
}

// splitID takes the interrupt id off the front of args. When the first word
// is not an awaited id and exactly one id is awaited, that id is used and
// args is left whole.
func splitID(args string, awaiting []string) (id, rest string, err error) {
	first, tail, _ := strings.Cut(args, " ")
	if first != "" && slices.Contains(awaiting, first) {
		return first, strings.TrimSpace(tail), nil
	}
	switch len(awaiting) {
	case 0:
		if first != "" {
			// Let the engine report an unknown id.
			return first, strings.TrimSpace(tail), nil
		}
		return "", "", errors.New("nothing is awaiting a decision")
	case 1:
		return awaiting[0], args, nil
	default:
		return "", "", fmt.Errorf("several decisions pending, name one of: %s", strings.Join(awaiting, ", "))
	}
}

// dispatch runs one line of input against eng. awaiting lists the interrupt
// ids of the batch in progress.
func dispatch(ctx context.Context, eng chatEngine, input string, awaiting []string, out io.Writer) error {
	cmd := parseInput(input)
	switch cmd.name {
	case "":
		if cmd.args == "" {
			return nil
		}
		return eng.SendMessage(ctx, cmd.args)

	case "quit", "exit", "q":
		return errQuit

	case "help":
		printHelp(out)
		return nil

	case "approve":
		id, _, err := splitID(cmd.args, awaiting)
		if err != nil {
			return err
		}
		return eng.Approve(ctx, id)

	case "reject":
		id, feedback, err := splitID(cmd.args, awaiting)
		if err != nil {
			return err
		}
		return eng.Reject(ctx, id, feedback)

	case "answer":
		id, text, err := splitID(cmd.args, awaiting)
		if err != nil {
			return err
		}
		if text == "" {
			return errors.New("usage: /answer [id] <text>")
		}
		return eng.Answer(ctx, id, text)

	case "skip":
		id, _, err := splitID(cmd.args, awaiting)
		if err != nil {
			return err
		}
		return eng.Skip(ctx, id)

	case "task":
		if cmd.args == "" {
			return eng.CloseTask(ctx)
		}
		return eng.OpenTask(ctx, cmd.args)

	default:
		return fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
}

// printHelp displays available commands.
func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /approve [id]            Approve a plan or workspace request")
	fmt.Fprintln(out, "  /reject [id] [feedback]  Reject; without feedback the next message is the feedback")
	fmt.Fprintln(out, "  /answer [id] <text>      Answer a question")
	fmt.Fprintln(out, "  /skip [id]               Skip a question or workspace request")
	fmt.Fprintln(out, "  /task <key>              Show a subagent task transcript")
	fmt.Fprintln(out, "  /task                    Back to the main conversation")
	fmt.Fprintln(out, "  /help                    Show this help")
	fmt.Fprintln(out, "  /quit                    Exit")
}
