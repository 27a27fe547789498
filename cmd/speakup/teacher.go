package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/eventloop"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/teacherview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var clearHistory bool

var teacherCmd = &cobra.Command{
	Use:   "teacher",
	Short: "Show the live loudness ranking and transcript history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTeacher(cmd.OutOrStdout())
	},
}

func init() {
	teacherCmd.Flags().BoolVar(&clearHistory, "clear-history", false, "Clear the transcript history before starting.")
}

func runTeacher(out io.Writer) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	server := viper.GetString("server")
	loop := eventloop.New(eventloop.DefaultQueueSize)

	// Both renders run on the loop, so the two views never interleave
	rankingClient := networking.NewRankingClient(server, loop, func(r networking.Ranking) {
		fmt.Fprintf(out, "\n== ranking %s ==\n", time.Now().Format(time.TimeOnly))
		teacherview.RenderRanking(out, r)
	})
	historyClient := networking.NewHistoryClient(server, loop, func(h networking.History) {
		fmt.Fprintf(out, "\n== history (%d) ==\n", len(h))
		teacherview.RenderHistory(out, h)
	}, networking.HistoryClientOptions{
		Limit:    viper.GetInt("historylimit"),
		Interval: viper.GetDuration("historyinterval"),
	})

	if clearHistory {
		clearCtx, cancelClear := context.WithTimeout(ctx, time.Duration(viper.GetInt("timeout"))*time.Second)
		if err := historyClient.Clear(clearCtx); err != nil {
			slog.Error("could not clear history", "err", err)
		}
		cancelClear()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		// The view is over once the ranking socket closes
		defer cancel()
		return rankingClient.Run(gctx)
	})
	g.Go(func() error {
		return historyClient.Run(gctx)
	})

	err := g.Wait()
	slog.Info("teacher view stopped", "rankingState", rankingClient.State().String())
	return err
}
