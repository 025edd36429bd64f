package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/statistics"
)

// LogHookFunc receives user-facing progress messages, for example to
// forward them over a websocket.
type LogHookFunc func(level, message string)

// Runner compresses every supported file below a source directory into a
// mirrored target tree.
type Runner struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	detector   *extractor.Detector
	compressor compressor.Compressor

	logHook LogHookFunc
}

// FileInfo describes a discovered input file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	Type    extractor.FileType
}

// Job pairs an input with the output path chosen for it.
type Job struct {
	File       FileInfo
	OutputPath string
	Duplicate  bool
}

// NewRunner returns a new Runner.
func NewRunner(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
) *Runner {
	return NewRunnerWithLogHook(cfg, log, stats, comp, nil)
}

// NewRunnerWithLogHook is NewRunner with progress messages also sent to hook.
func NewRunnerWithLogHook(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
	hook LogHookFunc,
) *Runner {
	return &Runner{
		config:     cfg,
		logger:     log,
		stats:      stats,
		detector:   extractor.NewDetector(cfg.Extensions, nil),
		compressor: comp,
		logHook:    hook,
	}
}

// Run discovers, plans and compresses the batch. In dry-run mode it only
// reports what it would do and returns no results.
func (r *Runner) Run(ctx context.Context) ([]*compressor.Result, error) {
	bc := r.config.Batch
	if bc.SourceDirectory == "" || bc.TargetDirectory == "" {
		return nil, errors.New("batch requires source and target directories")
	}
	if bc.TargetSize == "" && bc.TargetPercent <= 0 {
		return nil, fmt.Errorf("%w: batch needs target_size or target_percent", compressor.ErrInvalidTargetSize)
	}
	var fixedTarget int64
	if bc.TargetSize != "" {
		t, err := compressor.ParseTargetSize(bc.TargetSize)
		if err != nil {
			return nil, err
		}
		fixedTarget = t
	}

	logger.WithOperation(r.logger, "batch").WithFields(logrus.Fields{
		"source": bc.SourceDirectory,
		"target": bc.TargetDirectory,
	}).Info("Starting batch compression")

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		r.logger.Info("No supported media files found")
		r.stats.Finalize()
		return nil, nil
	}
	r.logger.Infof("Found %d media files to process", len(files))

	jobs, err := r.plan(files, fixedTarget)
	if err != nil {
		return nil, err
	}

	if bc.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
		for _, job := range jobs {
			action := "compress"
			if job.Duplicate {
				action = "compress (duplicate, " + bc.DuplicateHandling + ")"
			}
			r.emit("info", fmt.Sprintf("DRY-RUN: Would %s %s -> %s", action, job.File.Path, job.OutputPath))
		}
		r.stats.Finalize()
		return nil, nil
	}

	tasks := make([]compressor.Task, 0, len(jobs))
	for _, job := range jobs {
		if err := r.createDirectory(filepath.Dir(job.OutputPath)); err != nil {
			return nil, fmt.Errorf("could not create directory for %s: %w", job.OutputPath, err)
		}
		tasks = append(tasks, compressor.Task{
			InputPath:     job.File.Path,
			OutputPath:    job.OutputPath,
			TargetSpec:    bc.TargetSize,
			TargetPercent: bc.TargetPercent,
		})
	}

	results := r.compressor.CompressAll(ctx, tasks)
	for _, res := range results {
		r.stats.RecordResult(res)
		if res.Succeeded() {
			r.emit("info", fmt.Sprintf("Compressed %s -> %s (%d bytes, %s)",
				res.InputPath, res.OutputPath, res.FinalSize, res.CompressionRatio))
		} else {
			r.emit("error", fmt.Sprintf("Failed %s: %s", res.InputPath, res.Message))
		}
	}

	r.stats.Finalize()
	logger.WithOperation(r.logger, "batch").Info("Batch compression completed")
	return results, ctx.Err()
}

// discoverFiles finds all supported files below the source directory.
func (r *Runner) discoverFiles() ([]FileInfo, error) {
	var files []FileInfo
	source := r.config.Batch.SourceDirectory
	targetAbs, _ := filepath.Abs(r.config.Batch.TargetDirectory)
	limit := r.config.Batch.MaxFilesPerRun

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			r.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if info.IsDir() {
			if abs, _ := filepath.Abs(path); abs == targetAbs && path != source {
				r.logger.Debugf("Skipping target directory: %s", path)
				return filepath.SkipDir
			}
			r.stats.IncrementDirectoriesScanned()
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !r.config.IsSupportedExtension(ext) {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			Type:    r.detector.ByExtension(path),
		})
		r.stats.IncrementFilesFound()

		if limit > 0 && len(files) >= limit {
			r.logger.Infof("Reached maximum files limit (%d), stopping discovery", limit)
			return filepath.SkipAll
		}
		return nil
	})

	return files, err
}

// plan maps every file to an output path and applies duplicate handling.
// Skipped duplicates are left out of the returned jobs.
func (r *Runner) plan(files []FileInfo, fixedTarget int64) ([]Job, error) {
	reserved := make(map[string]bool, len(files))
	jobs := make([]Job, 0, len(files))

	for _, file := range files {
		target := fixedTarget
		if target == 0 {
			// an invalid percent leaves target at 0; the service reports it
			target, _ = compressor.TargetFromPercent(file.Size, r.config.Batch.TargetPercent)
		}

		rel := strings.TrimSuffix(file.RelPath, filepath.Ext(file.RelPath)) + outputExt(file, target)
		out := filepath.Join(r.config.Batch.TargetDirectory, rel)

		job := Job{File: file, OutputPath: out}
		if r.exists(out, reserved) {
			job.Duplicate = true
			r.stats.IncrementDuplicatesFound()

			switch r.config.Batch.DuplicateHandling {
			case "skip":
				logger.WithFile(r.logger, file.Path).Info("Skipping duplicate file")
				r.stats.IncrementDuplicatesSkipped()
				r.stats.IncrementFilesSkipped()
				continue
			case "overwrite":
				logger.WithFile(r.logger, out).Info("Overwriting existing file")
				r.stats.IncrementDuplicatesReplaced()
			case "rename":
				job.OutputPath = r.generateUniqueFilename(out, reserved)
				logger.WithFile(r.logger, file.Path).Infof("Renaming duplicate output to %s", job.OutputPath)
				r.stats.IncrementDuplicatesRenamed()
			default:
				return nil, fmt.Errorf("unknown duplicate handling strategy: %s", r.config.Batch.DuplicateHandling)
			}
		}

		reserved[job.OutputPath] = true
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *Runner) exists(path string, reserved map[string]bool) bool {
	if reserved[path] {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// generateUniqueFilename returns a unique filename by adding a counter.
func (r *Runner) generateUniqueFilename(basePath string, reserved map[string]bool) string {
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	counter := 1
	for {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if !r.exists(newPath, reserved) {
			return newPath
		}
		counter++
	}
}

// createDirectory creates a directory and its parents if they do not exist.
func (r *Runner) createDirectory(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return err
		}
		r.stats.IncrementDirectoriesCreated()
		r.logger.Debugf("Created directory: %s", dirPath)
	}
	return nil
}

func (r *Runner) emit(level, msg string) {
	switch level {
	case "error":
		r.logger.Error(msg)
	default:
		r.logger.Info(msg)
	}
	if r.logHook != nil {
		r.logHook(level, msg)
	}
}

var videoContainers = map[string]bool{".mp4": true, ".m4v": true, ".mov": true, ".mkv": true}

// outputExt is the extension the compressed file will carry. Images are
// always re-encoded as JPEG; audio and video keep their extension only
// when they are copied through unchanged or already use a format the
// encoder can write at a bitrate.
func outputExt(file FileInfo, target int64) string {
	ext := strings.ToLower(filepath.Ext(file.Path))
	passthrough := target > 0 && file.Size <= target

	switch file.Type {
	case extractor.FileTypeImage:
		return ".jpg"
	case extractor.FileTypeAudio:
		if _, lossy := encoder.AudioCodecFor(ext); passthrough || lossy {
			return ext
		}
		return ".mp3"
	case extractor.FileTypeVideo:
		if passthrough || videoContainers[ext] {
			return ext
		}
		return ".mp4"
	default:
		return ext
	}
}
