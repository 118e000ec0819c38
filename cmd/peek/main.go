// echo-peek 订阅 redis 中的 action 流并逐条打印
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/bus/redisstream"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr, stream, from string
		db                 int
		asJSON             bool
	)
	cmd := &cobra.Command{
		Use:          "echo-peek",
		Short:        "tail the action stream written by the redis sink",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli := redisstream.NewClient(addr, db)
			defer cli.Close()
			out := cmd.OutOrStdout()
			return redisstream.Tail(cmd.Context(), cli, stream, from, func(id string, e action.Envelope) error {
				return printEnvelope(out, id, e, asJSON)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "redis-addr", "127.0.0.1:6379", "redis address")
	f.IntVar(&db, "redis-db", 0, "redis database")
	f.StringVar(&stream, "stream", redisstream.DefaultActionStream, "action stream")
	f.StringVar(&from, "from", "$", "start id, 0 for the whole stream")
	f.BoolVar(&asJSON, "json", false, "print raw envelopes as JSON lines")
	return cmd
}

func printEnvelope(w io.Writer, id string, e action.Envelope, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %-6s %-19s %d->%d %q\n",
		id, e.ActionType, e.Payload.Type, e.Source, e.Dest, e.Payload.Message)
	return err
}
