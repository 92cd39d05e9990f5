package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pulumi/pulumi/sdk/v3/go/common/util/contract"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/session"
	"github.com/corymhall/proofsync/store"
	"github.com/corymhall/proofsync/transport"
)

var watchFlags struct {
	bridge  string
	index   int
	compile bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a record against a running bridge and print diagnostics as they arrive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		if cmd.Flags().Changed("bridge") {
			cfg.Client.BridgeURL = watchFlags.bridge
		}
		if cmd.Flags().Changed("auto-compile") {
			cfg.Client.AutoCompile = watchFlags.compile
		}
		return watch(ctx, cfg.Client.BridgeURL, watchFlags.index, cfg.Client.Sync, cfg.Client.SessionOptions(), cfg.Client.TransportOptions())
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.bridge, "bridge", "", "bridge URL")
	f.IntVar(&watchFlags.index, "index", 0, "1-based record index")
	f.BoolVar(&watchFlags.compile, "auto-compile", false, "compile after every change")
	contract.AssertNoErrorf(watchCmd.MarkFlagRequired("index"), "marking --index required")
}

func watch(ctx context.Context, bridgeURL string, index int, syncExternal bool, opts session.Options, topts transport.Options) error {
	ctx, logger := debug.With(ctx, slog.Int("record", index))
	client := backend.New(bridgeURL, nil)

	records, err := client.Records(ctx)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	content, err := statement(records, index)
	if err != nil {
		return err
	}

	tr := client.Transport(topts)
	display := newConsole(ctx)
	ctrl := session.New(ctx, tr, client, display, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tr.Start(gctx)
		<-gctx.Done()
		return tr.Close()
	})
	g.Go(func() error {
		defer ctrl.Close()
		if err := ctrl.Activate(gctx, index, content); err != nil {
			return err
		}
		if syncExternal {
			if err := ctrl.OpenExternal(gctx); err != nil {
				logger.Warn("external sync unavailable", slog.Any("error", err))
			}
		}
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// statement returns the statement of the 1-based record index.
func statement(records []json.RawMessage, index int) (string, error) {
	if index < 1 || index > len(records) {
		return "", fmt.Errorf("record %d of %d: %w", index, len(records), store.ErrIndexOutOfRange)
	}
	return store.StatementOf(records[index-1]), nil
}
