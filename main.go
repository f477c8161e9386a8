package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/couchrepl/couchrepl/cluster"
	"github.com/couchrepl/couchrepl/config"
	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/log"
	"github.com/couchrepl/couchrepl/metrics"
	"github.com/couchrepl/couchrepl/progress"
	"github.com/couchrepl/couchrepl/sched"
	"github.com/couchrepl/couchrepl/sel"
	"github.com/couchrepl/couchrepl/util"
)

// MetricsServerShutdownTimeout bounds the metrics server shutdown on exit.
const MetricsServerShutdownTimeout = 3 * time.Second

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v0.3.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "couchrepl [flags] [DB ...]",
	Short: "Replicate databases between CouchDB clusters",
	Args:  cobra.ArbitraryArgs,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd, args)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		lg := log.InitGlobals(resolveLogLevel(cfg), cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(cmd.Context())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		err := config.Validate(cfg)
		if err != nil {
			return errors.Wrap(err, "validate options")
		}

		log.Ctx(cmd.Context()).Info("couchrepl " + buildVersion())

		return run(cmd.Context(), cfg)
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")

	rootCmd.Flags().StringP("source", "s", "", "URL of the CouchDB cluster to replicate from")
	rootCmd.Flags().StringP("target", "t", "", "URL of the CouchDB cluster to replicate to")

	rootCmd.Flags().BoolP("all", "a", false,
		"Replicate all databases from source to target (combine with --skip for \"all but ...\")")
	rootCmd.Flags().StringSliceP("skip", "i", nil,
		"Databases to skip (i.e. NOT replicate), only with --all")
	rootCmd.Flags().IntP("concurrency", "c", config.DefaultConcurrency,
		"Maximum number of simultaneous replications")
	rootCmd.Flags().Bool("use-target", false,
		"Use the target's /_replicate API (default: the source's)")
	rootCmd.Flags().Bool("system-dbs", false,
		"Do not skip system databases starting with underscore (_users, _global_changes, ...)")
	rootCmd.Flags().BoolP("permanent", "p", false,
		"Add permanent continuous replication after the initial replication")

	rootCmd.Flags().Duration("http-timeout", config.DefaultHTTPTimeout,
		"Timeout for discovery and connection-setup calls")
	rootCmd.Flags().Int("metrics-port", 0,
		"Serve Prometheus metrics on this port while running (0 = off)")
	rootCmd.Flags().Bool("insecure-tls", false, "Skip TLS certificate verification")
	rootCmd.Flags().String("tls-ca", "", "PEM file with additional trusted CA certificates")

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.Flags().BoolP("debug", "d", false,
		"Log request and response details, useful when long replications fail")
	rootCmd.Flags().BoolP("quiet", "q", false, "Do not report progress")

	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}

// resolveLogLevel applies the verbosity shorthands on top of --log-level.
func resolveLogLevel(cfg *config.Config) zerolog.Level {
	switch {
	case cfg.Debug:
		return zerolog.TraceLevel
	case cfg.Verbose:
		return zerolog.DebugLevel
	case cfg.Quiet:
		return zerolog.WarnLevel
	}

	logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	return logLevel
}

// run executes a whole replication run and returns a non-nil error when any
// selected database did not succeed.
func run(ctx context.Context, cfg *config.Config) error {
	source, err := config.SourceEndpoint(cfg)
	if err != nil {
		return err
	}

	target, err := config.TargetEndpoint(cfg)
	if err != nil {
		return err
	}

	clientOptions := cluster.Options{
		Timeout:     cfg.HTTPTimeout,
		InsecureTLS: cfg.InsecureTLS,
		CAFile:      cfg.TLSCaFile,
	}

	sourceClient, err := cluster.NewClient(source, clientOptions)
	if err != nil {
		return err
	}

	targetClient, err := cluster.NewClient(target, clientOptions)
	if err != nil {
		return err
	}

	lg := log.Ctx(ctx)
	lg.Infof("Source cluster: %s", source)
	lg.Infof("Target cluster: %s", target)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	metrics.Init(promRegistry)

	stopMetrics := serveMetrics(cfg.MetricsPort, promRegistry)
	defer stopMetrics()

	databases, err := sel.Select(ctx, sel.Policy{
		Databases:     cfg.Databases,
		All:           cfg.All,
		Skip:          cfg.Skip,
		IncludeSystem: cfg.SystemDBs,
	}, sourceClient)
	if err != nil {
		return errors.Wrap(err, "select databases")
	}

	driver := sched.Replicator(sourceClient)
	if cfg.UseTarget {
		driver = targetClient
	}

	scheduler, err := sched.New(driver, source, target, sched.Options{
		Concurrency: cfg.Concurrency,
		Permanent:   cfg.Permanent,
	})
	if err != nil {
		return err
	}

	reporter := progress.NewReporter(len(databases), cfg.Quiet)
	scheduler.SetOnResult(reporter.OnResult)
	reporter.Start(ctx)

	summary := scheduler.Run(ctx, databases)
	reporter.Finish(summary)

	if !summary.Ok() {
		return errors.Errorf("%d of %d databases failed",
			summary.Failed+summary.Cancelled, summary.Total)
	}

	return nil
}

// serveMetrics starts the Prometheus endpoint when a port is configured.
// The returned func stops the server.
func serveMetrics(port int, registry *prometheus.Registry) func() {
	if port == 0 {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.New("metrics").Error(err, "Metrics server")
		}
	}()

	log.New("metrics").Infof("Serving metrics at http://%s/metrics", srv.Addr)

	return func() {
		err := util.CtxWithTimeout(context.Background(), MetricsServerShutdownTimeout, srv.Shutdown)
		if err != nil {
			log.New("metrics").Warn("Metrics server shutdown: " + err.Error())
		}
	}
}
