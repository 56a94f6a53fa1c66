package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newFormatCmd(a *app) *cobra.Command {
	var (
		db    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Encode a structure list into a formatted store and index",
		Long: `Reads "identifier<TAB>notation" lines from --db, or rows from the SQL source
given by --source-driver and --dsn, and writes <name>.fmt and <name>.idx
next to the input. Structures that cannot be encoded are skipped with a
warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Build.Limit
			}
			paths, err := a.paths(db)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			_, err = a.format(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), a.input(db), paths, limit)
			return err
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "structure list to format")
	cmd.Flags().IntVar(&limit, "limit", -1, "format at most this many records (-1 for all)")
	return cmd
}
