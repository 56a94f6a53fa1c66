package main

import (
	"context"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/align"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/sqldb"
)

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	configPath string
	notation   string
	logLevel   string
	driver     string
	dsn        string
	cfg        *config.Config
	metrics    *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chemblast",
		Short:         "Similarity search over chemical structures encoded as symbol sequences",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.notation, "notation", "", "input notation: smiles or symbols (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&a.driver, "source-driver", "", "build from a SQL table instead of a file: postgres or sqlite")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "connection string for --source-driver")

	root.AddCommand(newFormatCmd(a), newSearchCmd(a), newServeCmd(a))
	return root
}

func (a *app) load() error {
	_ = godotenv.Load()
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.notation != "" {
		cfg.Encoding.Notation = a.notation
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.driver != "" {
		cfg.Source.Driver = a.driver
	}
	if a.dsn != "" {
		cfg.Source.DSN = a.dsn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	return nil
}

func (a *app) codec() (notation.Codec, error) {
	return notation.For(a.cfg.Encoding.Notation)
}

func (a *app) scorer() (*align.Scorer, error) {
	m := align.BLOSUM62
	if a.cfg.Scoring.MatrixFile != "" {
		loaded, err := align.LoadMatrix(a.cfg.Scoring.MatrixFile)
		if err != nil {
			return nil, err
		}
		m = loaded
	}
	return align.NewScorer(m, a.cfg.Scoring.GapPenalty)
}

// paths resolves the database location from --db, falling back to the
// configured input and explicit store/index paths.
func (a *app) paths(db string) (store.Paths, error) {
	d := a.cfg.Database
	if db != "" {
		d.Input = db
	}
	s, i := d.Paths()
	if s == "" || i == "" {
		return store.Paths{}, fmt.Errorf("no database given: pass --db or set database.input")
	}
	return store.Paths{Store: s, Index: i}, nil
}

// input is the structure list named by --db or the config.
func (a *app) input(db string) string {
	if db != "" {
		return db
	}
	return a.cfg.Database.Input
}

// openSource reads from the configured SQL source when a driver is set and
// from the input list file otherwise. The returned func closes everything
// it opened.
func (a *app) openSource(ctx context.Context, input string) (source.Source, func(), error) {
	if a.cfg.Source.Driver != "" {
		client, err := sqldb.New(a.cfg.Source)
		if err != nil {
			return nil, nil, err
		}
		src, err := source.OpenSQL(ctx, client.DB, a.cfg.Source.Query)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return src, func() { src.Close(); client.Close() }, nil
	}
	if input == "" {
		return nil, nil, fmt.Errorf("no input: pass --db or set source.driver")
	}
	src, err := source.OpenTSV(input)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { src.Close() }, nil
}

// builder returns a Builder that announces rebuilds on Kafka when brokers
// are configured. The returned func releases the producer.
func (a *app) builder(codec notation.Codec) (*indexer.Builder, func()) {
	opts := indexer.Options{
		Workers:     a.cfg.Build.Workers,
		BatchSize:   a.cfg.Build.BatchSize,
		LockTimeout: a.cfg.Build.LockTimeout,
		Metrics:     a.metrics,
	}
	release := func() {}
	if len(a.cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.DatabaseRebuilt)
		opts.Notifier = indexer.NewKafkaNotifier(producer, resilience.RetryConfig{MaxAttempts: 5})
		release = func() { producer.Close() }
	}
	return indexer.NewBuilder(codec, opts), release
}

// format builds the database at paths from input and reports to out.
func (a *app) format(ctx context.Context, out, errOut io.Writer, input string, paths store.Paths, limit int) (*indexer.BuildReport, error) {
	codec, err := a.codec()
	if err != nil {
		return nil, err
	}
	src, closeSource, err := a.openSource(ctx, input)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	b, release := a.builder(codec)
	defer release()
	report, err := b.Build(ctx, src, paths, limit)
	if err != nil {
		return nil, err
	}
	for _, w := range report.Warnings {
		fmt.Fprintln(errOut, "warning:", w)
	}
	fmt.Fprintf(out, "formatted %d of %d records (%d skipped) into %s and %s\n",
		report.Encoded, report.Read, report.Skipped, report.StorePath, report.IndexPath)
	return report, nil
}
