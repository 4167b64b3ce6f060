package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"crawshaw.io/iox"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sync/errgroup"

	"calimport/internal/config"
	"calimport/internal/importer"
	appLog "calimport/internal/log"
	"calimport/internal/model"
	"calimport/internal/store"
	"calimport/internal/subscribe"
	"calimport/internal/validate"
	"calimport/internal/web"
)

func main() {
	if err := Main(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			appLog.Error("calimport failed", err)
		}
		os.Exit(1)
	}
}

// Main builds the command tree and runs it with args.
func Main(args []string) error {
	rootFS := flag.NewFlagSet("calimport", flag.ContinueOnError)
	configPath := rootFS.String("config", "/etc/calimport/config.yaml", "Path to config file")

	importFS := flag.NewFlagSet("calimport import", flag.ContinueOnError)
	importFormat := importFS.String("format", "", "Source format: ical, xcal or jcal (default from config)")
	importCalendar := importFS.String("calendar", "", "Destination calendar (default from config)")
	importDryRun := importFS.Bool("dry-run", false, "Reassemble and validate without writing to the database")
	importSupersede := importFS.Bool("supersede", false, "Replace objects whose UID is already stored")

	serveFS := flag.NewFlagSet("calimport serve", flag.ContinueOnError)
	serveListen := serveFS.String("listen", "", "HTTP listen address (overrides config if set)")

	importCmd := &ffcli.Command{
		Name:       "import",
		ShortUsage: "calimport [-config PATH] import [flags] FILE|-|URL",
		ShortHelp:  "Import a calendar document into a calendar",
		FlagSet:    importFS,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("import: exactly one source (file, - or URL) is required")
			}
			conf, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if *importSupersede {
				conf.Supersede = true
			}
			return runImport(ctx, conf, args[0], *importFormat, *importCalendar, *importDryRun)
		},
	}

	serveCmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "calimport [-config PATH] serve [-listen ADDR]",
		ShortHelp:  "Serve the import API and refresh subscriptions",
		FlagSet:    serveFS,
		Exec: func(ctx context.Context, args []string) error {
			conf, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if *serveListen != "" {
				conf.Listen = *serveListen
			}
			return runServe(ctx, conf)
		},
	}

	root := &ffcli.Command{
		Name:        "calimport",
		ShortUsage:  "calimport [-config PATH] <subcommand> [flags]",
		FlagSet:     rootFS,
		Subcommands: []*ffcli.Command{importCmd, serveCmd},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return root.ParseAndRun(ctx, args)
}

func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	appLog.SetLevel(level)
	return conf, nil
}

// pipeline is the set of components shared by both subcommands.
type pipeline struct {
	importer *importer.Importer
	store    *store.Store
	filer    *iox.Filer
}

func newPipeline(conf *config.Config, dryRun bool) (*pipeline, error) {
	var backend store.Backend
	if dryRun {
		backend = store.NewMemory()
	} else {
		db, err := store.OpenSQLite(conf.Database, 0)
		if err != nil {
			return nil, err
		}
		backend = db
	}
	filer := iox.NewFiler(0)
	return &pipeline{
		importer: &importer.Importer{
			Filer:         filer,
			SpoolMemBytes: conf.SpoolMemBytes,
			ChunkSize:     conf.ChunkSize,
		},
		store: store.New(backend, validate.Object),
		filer: filer,
	}, nil
}

func (p *pipeline) Close(ctx context.Context) {
	if err := p.store.Backend.Close(); err != nil {
		appLog.Error("closing store failed", err)
	}
	p.filer.Shutdown(ctx)
}

func runImport(ctx context.Context, conf *config.Config, source, format, calendar string, dryRun bool) error {
	opts, err := conf.ImportOptions(format, calendar)
	if err != nil {
		return err
	}
	p, err := newPipeline(conf, dryRun)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	src, closeSrc, err := openSource(ctx, conf, source, opts)
	if err != nil {
		return err
	}
	defer closeSrc()

	appLog.Info("import",
		"source", source,
		"format", opts.Format,
		"calendar", opts.Calendar,
		"errors", opts.Errors,
		"validation", opts.Validation,
		"supersede", opts.Supersede,
		"dry_run", dryRun,
	)

	res, err := p.importer.Import(ctx, src, p.store, opts)
	if res != nil {
		printResult(os.Stdout, res)
	}
	return err
}

// openSource opens a file, stdin ("-") or a remote feed.
func openSource(ctx context.Context, conf *config.Config, source string, opts model.ImportOptions) (io.Reader, func(), error) {
	switch {
	case source == "-":
		return os.Stdin, func() {}, nil
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		f := subscribe.NewFetcher(conf.CacheDir)
		res, err := f.FetchOne(ctx, subscribe.Source{
			ID:       "cli",
			URL:      source,
			Format:   opts.Format,
			Calendar: opts.Calendar,
		})
		if err != nil {
			return nil, nil, err
		}
		fh, err := res.Open()
		if err != nil {
			return nil, nil, err
		}
		return fh, func() { fh.Close() }, nil
	default:
		fh, err := os.Open(source)
		if err != nil {
			return nil, nil, err
		}
		return fh, func() { fh.Close() }, nil
	}
}

func printResult(w io.Writer, res *model.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range res.Objects {
		key := o.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Outcome, o.Type, key, o.URI, strings.Join(o.Errors, "; "))
	}
	tw.Flush()
	fmt.Fprintf(w, "created=%d updated=%d exists=%d invalid=%d error=%d\n",
		res.Count(model.OutcomeCreated),
		res.Count(model.OutcomeUpdated),
		res.Count(model.OutcomeExists),
		res.Count(model.OutcomeInvalid),
		res.Count(model.OutcomeError),
	)
}

func runServe(ctx context.Context, conf *config.Config) error {
	p, err := newPipeline(conf, false)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	var watcher *subscribe.Watcher
	if len(conf.Subscriptions) > 0 {
		watcher = newWatcher(conf, p)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"database", conf.Database,
		"calendar", conf.Calendar,
		"refresh", conf.Refresh,
		"subscriptions", len(conf.Subscriptions),
	)

	srv := web.NewServer(conf, p.importer, p.store, watcher)

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return srv.Serve(grpCtx)
	})
	if watcher != nil {
		grp.Go(func() error {
			return watcher.Run(grpCtx)
		})
	}
	return grp.Wait()
}

func newWatcher(conf *config.Config, p *pipeline) *subscribe.Watcher {
	sources := make([]subscribe.Source, 0, len(conf.Subscriptions))
	for _, s := range conf.Subscriptions {
		format, err := model.ParseFormat(s.Format)
		if err != nil {
			continue // rejected by config.Validate already
		}
		sources = append(sources, subscribe.Source{
			ID:       s.ID,
			URL:      s.URL,
			Format:   format,
			Calendar: s.Calendar,
		})
	}

	return &subscribe.Watcher{
		Fetcher:  subscribe.NewFetcher(conf.CacheDir),
		Sources:  sources,
		Schedule: conf.Refresh,
		Import: func(ctx context.Context, src subscribe.Source, res *subscribe.FetchResult) (*model.Result, error) {
			opts, err := conf.ImportOptions(string(src.Format), src.Calendar)
			if err != nil {
				return nil, err
			}
			// Feeds are re-imported wholesale; newer copies win.
			opts.Supersede = true
			fh, err := res.Open()
			if err != nil {
				return nil, err
			}
			defer fh.Close()
			return p.importer.Import(ctx, fh, p.store, opts)
		},
	}
}
