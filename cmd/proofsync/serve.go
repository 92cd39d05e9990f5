package main

import (
	"github.com/spf13/cobra"

	"github.com/corymhall/proofsync/server"
)

var serveFlags struct {
	addr    string
	root    string
	records string
	static  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge between editors and the Lean analysis server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		opts := cfg.Server.Options()
		flags := cmd.Flags()
		if flags.Changed("addr") {
			opts.Addr = serveFlags.addr
		}
		if flags.Changed("root") {
			opts.Root = serveFlags.root
		}
		if flags.Changed("records") {
			opts.RecordsPath = serveFlags.records
		}
		if flags.Changed("static") {
			opts.StaticDir = serveFlags.static
		}
		return server.New(opts).Run(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", server.DefaultAddr, "listen address")
	f.StringVar(&serveFlags.root, "root", ".", "Lean project root")
	f.StringVar(&serveFlags.records, "records", "", "records JSON file (default <root>/records.json)")
	f.StringVar(&serveFlags.static, "static", "", "directory served at /")
}
