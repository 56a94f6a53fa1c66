package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/executor"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		db        string
		query     string
		top       int
		alignment bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Rank database structures by similarity to a query",
		Long: `Encodes --query, aligns it against every record of the database and prints
the best hits as "identifier<TAB>score" lines, best first. If the formatted
store or index is missing it is built from --db first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("top") {
				top = a.cfg.Search.DefaultTopK
			}
			paths, err := a.paths(db)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Formatting on demand is not bounded by search.timeout.
			if err := a.ensureDatabase(ctx, cmd.ErrOrStderr(), db, paths); err != nil {
				return err
			}
			eng, err := a.openEngine(paths)
			if err != nil {
				return err
			}
			defer eng.Close()

			searchCtx := ctx
			if a.cfg.Search.Timeout > 0 {
				var cancel context.CancelFunc
				searchCtx, cancel = context.WithTimeout(ctx, a.cfg.Search.Timeout)
				defer cancel()
			}
			res, err := eng.SearchNotation(searchCtx, query, top, executor.WithAlignment(alignment))
			if res != nil {
				printHits(cmd.OutOrStdout(), res)
				if res.Partial {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: partial results, %d of %d records scored\n", res.Scanned, res.Total)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "structure list whose formatted database to search")
	cmd.Flags().StringVarP(&query, "query", "q", "", "query structure in the configured notation")
	cmd.Flags().IntVar(&top, "top", 10, "number of hits to print")
	cmd.Flags().BoolVar(&alignment, "align", false, "print the aligned region of each hit")
	cmd.MarkFlagRequired("query")
	return cmd
}

// ensureDatabase formats the database first when either file is missing.
func (a *app) ensureDatabase(ctx context.Context, log io.Writer, db string, paths store.Paths) error {
	if paths.Exists() {
		return nil
	}
	slog.Info("formatted database not found, formatting", "store", paths.Store, "index", paths.Index)
	_, err := a.format(ctx, log, log, a.input(db), paths, a.cfg.Build.Limit)
	return err
}

func (a *app) openEngine(paths store.Paths) (*executor.Engine, error) {
	codec, err := a.codec()
	if err != nil {
		return nil, err
	}
	scorer, err := a.scorer()
	if err != nil {
		return nil, err
	}
	return executor.Open(paths, executor.Options{
		Codec:     codec,
		Scorer:    scorer,
		Workers:   a.cfg.Search.Workers,
		ChunkSize: a.cfg.Search.ChunkSize,
		Metrics:   a.metrics,
	})
}

func printHits(w io.Writer, res *executor.SearchResult) {
	for _, h := range res.Hits {
		fmt.Fprintf(w, "%s\t%s\n", h.ID, strconv.FormatFloat(h.Score, 'f', -1, 64))
		if al := h.Alignment; al != nil {
			fmt.Fprintf(w, "  query %4d %s %d\n", al.QueryStart+1, al.QueryAligned, al.QueryEnd)
			fmt.Fprintf(w, "  hit   %4d %s %d\n", al.CandidateStart+1, al.CandidateAligned, al.CandidateEnd)
		}
	}
}
