package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"media-compressor-go/internal/batch"
	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/metrics"
	"media-compressor-go/internal/statistics"
	"media-compressor-go/internal/web"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	percent   float64
	sourceDir string
	targetDir string
	dryRun    bool
	port      int
	version   = "dev"
	buildTime string
)

// errReported means the failure is already on stdout as a result record.
var errReported = errors.New("compression failed")

// rootCmd compresses a single file.
var rootCmd = &cobra.Command{
	Use:   "media-compressor <input> <output> [target]",
	Short: "Compress media files to a target size",
	Long: `media-compressor shrinks images, video, audio and PDF documents until
they fit a requested size such as 500KB or 2MB, searching the encoder
quality or bitrate for the closest result.

The result record is printed to stdout as JSON. The exit code is 0 when the
record's status is success and 1 otherwise.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd.Context(), cmd.OutOrStdout(), args)
	},
}

// batchCmd compresses a directory tree.
var batchCmd = &cobra.Command{
	Use:   "batch [target]",
	Short: "Compress every supported file in a directory",
	Long: `Walks the source directory and compresses each supported file into the
target directory, keeping the relative layout. Existing outputs are handled
according to batch.duplicate_handling (rename, skip or overwrite).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), args)
	},
}

// probeCmd shows what the compressor sees in a file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show detected type, duration and metadata of a file",
	Long: `Detects the media domain of a file, probes its container with ffprobe and
prints its metadata tags. This is useful for debugging why a file is routed
to a particular driver.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context(), args[0])
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP compression API",
	Long: `Starts an HTTP server that queues compression jobs, streams search
progress over a websocket at /ws and exposes Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().Float64Var(&percent, "percent", 0, "target size as a percentage of the input (used when no target is given)")

	batchCmd.Flags().StringVar(&sourceDir, "source", "", "source directory containing media files")
	batchCmd.Flags().StringVar(&targetDir, "target", "", "target directory for compressed files")
	batchCmd.Flags().Float64Var(&percent, "percent", 0, "target size as a percentage of each input")
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be compressed without writing files")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	if buildTime != "" {
		rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Version}} (built %s)\n", buildTime))
	}

	rootCmd.SetFlagErrorFunc(flagError)

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// flagError turns a bad flag on the compress command into a result record.
// Subcommands inherit this func but keep cobra's plain error.
func flagError(cmd *cobra.Command, err error) error {
	if cmd != rootCmd {
		return err
	}
	return printResult(cmd.OutOrStdout(), &compressor.Result{
		Status:  compressor.StatusError,
		Message: err.Error(),
	})
}

// runCompress executes one compression and prints its record.
func runCompress(ctx context.Context, w io.Writer, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return printResult(w, &compressor.Result{
			Status:  compressor.StatusError,
			Message: "usage: media-compressor <input> <output> [target]",
		})
	}

	task := compressor.Task{InputPath: args[0], OutputPath: args[1], TargetPercent: percent}
	if len(args) == 3 {
		task.TargetSpec = args[2]
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return printResult(w, &compressor.Result{
			Status:    compressor.StatusError,
			Message:   fmt.Sprintf("failed to load config: %v", err),
			InputPath: task.InputPath,
		})
	}

	log := setupLogger(cfg)
	svc := compressor.NewService(cfg, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return printResult(w, svc.Compress(ctx, task))
}

func printResult(w io.Writer, res *compressor.Result) error {
	out, err := res.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	if !res.Succeeded() {
		return errReported
	}
	return nil
}

// runBatch compresses a directory tree and prints the statistics.
func runBatch(ctx context.Context, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if sourceDir != "" {
		cfg.Batch.SourceDirectory = sourceDir
	}
	if targetDir != "" {
		cfg.Batch.TargetDirectory = targetDir
	}
	if len(args) == 1 {
		cfg.Batch.TargetSize = args[0]
	}
	if percent > 0 {
		cfg.Batch.TargetPercent = percent
	}
	if dryRun {
		cfg.Batch.DryRun = true
	}
	if !dirExists(cfg.Batch.SourceDirectory) {
		return fmt.Errorf("source directory does not exist: %s", cfg.Batch.SourceDirectory)
	}

	log := setupLogger(cfg)
	checkTools(log, cfg)
	stats := statistics.NewStatistics()
	svc := compressor.NewService(cfg, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(cfg, log, stats, svc)
	if _, err := runner.Run(ctx); err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println("\n" + stats.GetDomainBreakdown())
		if stats.GetFilesWithErrors() > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}
	if stats.GetFilesWithErrors() > 0 {
		return fmt.Errorf("%d files failed", stats.GetFilesWithErrors())
	}
	return nil
}

// runProbe prints detection, container and metadata information for a file.
func runProbe(ctx context.Context, filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)
	checkTools(log, cfg)

	ff := encoder.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, cfg.Tools.ProbeTimeout)
	detector := extractor.NewDetector(cfg.Extensions, ff)

	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	ft, _ := detector.Detect(ctx, filePath)
	domain, ok := compressor.DomainFor(ft)

	fmt.Printf("File:   %s\n", filePath)
	fmt.Printf("Size:   %d bytes\n", info.Size())
	fmt.Printf("Type:   %s\n", ft)
	if ok {
		fmt.Printf("Domain: %s\n", domain)
	} else {
		fmt.Println("Domain: unsupported")
	}

	if probe, err := ff.Probe(ctx, filePath); err == nil {
		fmt.Printf("Format: %s\n", probe.FormatName)
		if probe.Duration > 0 {
			fmt.Printf("Duration: %.2fs\n", probe.Duration)
		}
		if probe.Width > 0 {
			fmt.Printf("Dimensions: %dx%d\n", probe.Width, probe.Height)
		}
	} else {
		log.WithError(err).Debug("ffprobe could not read file")
	}

	if domain == compressor.DomainDocument {
		if pages, err := encoder.PageCount(filePath); err == nil {
			fmt.Printf("Pages: %d\n", pages)
		}
	}

	chain := extractor.NewChain(
		extractor.NewExifToolExtractor(log, cfg.Tools.ExifTool),
		extractor.NewEXIFExtractor(log),
	)
	meta, err := chain.Extract(filePath)
	if err != nil {
		fmt.Printf("Metadata: unavailable (%v)\n", err)
		return nil
	}

	fmt.Printf("Metadata (%s):\n", meta.Source)
	if meta.CaptureTime != nil {
		fmt.Printf("  Captured: %s\n", meta.CaptureTime.Format("2006-01-02 15:04:05"))
	}
	keys := make([]string, 0, len(meta.Fields))
	for k := range meta.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, meta.Fields[k])
	}
	return nil
}

// runServe starts the HTTP API and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	checkTools(log, cfg)
	m := metrics.NewMetrics()
	svc := compressor.NewService(cfg, log,
		compressor.WithObserver(m),
		compressor.WithResultHook(m.RecordResult),
	)
	server := web.NewServer(cfg, log, svc, statistics.NewStatistics(), m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-sigChan
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger. Console output goes to
// stderr so stdout carries only command results.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    verbose,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// checkTools warns about external encoders missing from PATH. Domains
// that need them fail per file, so the long-running commands still start.
func checkTools(log *logrus.Logger, cfg *config.Config) {
	tools := []struct{ name, path string }{
		{"ffmpeg", cfg.Tools.FFmpeg},
		{"ffprobe", cfg.Tools.FFprobe},
		{"ghostscript", cfg.Tools.Ghostscript},
		{"exiftool", cfg.Tools.ExifTool},
	}
	for _, t := range tools {
		if !encoder.Available(t.path) {
			logger.WithOperation(log, "startup").WithField("tool", t.name).
				Warnf("%s not found at %q", t.name, t.path)
		}
	}
}

// exitCode mirrors the result status: 0 for success, 1 for anything else.
func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
