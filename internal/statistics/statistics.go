package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"media-compressor-go/internal/compressor"
)

// Statistics contains counters for a compression run or a server lifetime.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesDegraded       int64
	FilesShortCircuited int64
	FilesSkipped        int64
	FilesWithErrors     int64

	DuplicatesFound    int64
	DuplicatesRenamed  int64
	DuplicatesSkipped  int64
	DuplicatesReplaced int64

	TotalIterations int64
	BytesIn         int64
	BytesOut        int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	DirectoriesCreated int64
	DirectoriesScanned int64

	Errors []StatError

	mutex sync.RWMutex

	DomainStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent copy of the counters, suitable for JSON.
type Snapshot struct {
	FilesFound       int64            `json:"files_found"`
	FilesProcessed   int64            `json:"files_processed"`
	Compressed       int64            `json:"compressed"`
	Degraded         int64            `json:"degraded"`
	ShortCircuited   int64            `json:"short_circuited"`
	Skipped          int64            `json:"skipped"`
	Errors           int64            `json:"errors"`
	Iterations       int64            `json:"iterations"`
	BytesIn          int64            `json:"bytes_in"`
	BytesOut         int64            `json:"bytes_out"`
	SavedPercent     float64          `json:"saved_percent"`
	Domains          map[string]int64 `json:"domains"`
	UptimeSeconds    float64          `json:"uptime_seconds"`
	RecentErrors     []StatError      `json:"recent_errors,omitempty"`
	DuplicatesFound  int64            `json:"duplicates_found"`
	DirectoriesFound int64            `json:"directories_scanned"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		DomainStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementDuplicatesFound increases the count of found duplicates by 1.
func (s *Statistics) IncrementDuplicatesFound() {
	atomic.AddInt64(&s.DuplicatesFound, 1)
}

// IncrementDuplicatesRenamed increases the count of renamed duplicates by 1.
func (s *Statistics) IncrementDuplicatesRenamed() {
	atomic.AddInt64(&s.DuplicatesRenamed, 1)
}

// IncrementDuplicatesSkipped increases the count of skipped duplicates by 1.
func (s *Statistics) IncrementDuplicatesSkipped() {
	atomic.AddInt64(&s.DuplicatesSkipped, 1)
}

// IncrementDuplicatesReplaced increases the count of replaced duplicates by 1.
func (s *Statistics) IncrementDuplicatesReplaced() {
	atomic.AddInt64(&s.DuplicatesReplaced, 1)
}

// IncrementDirectoriesCreated increases the count of created directories by 1.
func (s *Statistics) IncrementDirectoriesCreated() {
	atomic.AddInt64(&s.DirectoriesCreated, 1)
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	atomic.AddInt64(&s.DirectoriesScanned, 1)
}

// RecordResult folds one compression result into the counters.
func (s *Statistics) RecordResult(res *compressor.Result) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.TotalIterations, int64(res.IterationsUsed))

	if !res.Succeeded() {
		atomic.AddInt64(&s.FilesWithErrors, 1)
		s.AddError(res.InputPath, "compress", res.Message)
		return
	}

	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.BytesIn, res.OriginalSize)
	atomic.AddInt64(&s.BytesOut, res.FinalSize)
	if res.Degraded {
		atomic.AddInt64(&s.FilesDegraded, 1)
	}
	if res.ShortCircuit {
		atomic.AddInt64(&s.FilesShortCircuited, 1)
	}
	if res.Domain != "" {
		s.mutex.Lock()
		s.DomainStats[res.Domain]++
		s.mutex.Unlock()
	}
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns a copy of the counters with at most the last ten errors.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	domains := make(map[string]int64, len(s.DomainStats))
	for k, v := range s.DomainStats {
		domains[k] = v
	}

	recent := s.Errors
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	snap := Snapshot{
		FilesFound:       atomic.LoadInt64(&s.TotalFilesFound),
		FilesProcessed:   atomic.LoadInt64(&s.TotalFilesProcessed),
		Compressed:       atomic.LoadInt64(&s.FilesCompressed),
		Degraded:         atomic.LoadInt64(&s.FilesDegraded),
		ShortCircuited:   atomic.LoadInt64(&s.FilesShortCircuited),
		Skipped:          atomic.LoadInt64(&s.FilesSkipped),
		Errors:           atomic.LoadInt64(&s.FilesWithErrors),
		Iterations:       atomic.LoadInt64(&s.TotalIterations),
		BytesIn:          atomic.LoadInt64(&s.BytesIn),
		BytesOut:         atomic.LoadInt64(&s.BytesOut),
		Domains:          domains,
		UptimeSeconds:    time.Since(s.StartTime).Seconds(),
		RecentErrors:     append([]StatError(nil), recent...),
		DuplicatesFound:  atomic.LoadInt64(&s.DuplicatesFound),
		DirectoriesFound: atomic.LoadInt64(&s.DirectoriesScanned),
	}
	if snap.BytesIn > 0 {
		snap.SavedPercent = (1 - float64(snap.BytesOut)/float64(snap.BytesIn)) * 100
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	bytesIn := atomic.LoadInt64(&s.BytesIn)
	bytesOut := atomic.LoadInt64(&s.BytesOut)
	saved := 0.0
	if bytesIn > 0 {
		saved = (1 - float64(bytesOut)/float64(bytesIn)) * 100
	}
	processed := atomic.LoadInt64(&s.TotalFilesProcessed)
	avgIterations := 0.0
	if processed > 0 {
		avgIterations = float64(atomic.LoadInt64(&s.TotalIterations)) / float64(processed)
	}

	return fmt.Sprintf(`Media Compressor Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Compressed: %d
		Degraded: %d
		Already Within Target: %d
		Skipped: %d
		Errors: %d

Duplicates:
		Found: %d
		Renamed: %d
		Skipped: %d
		Replaced: %d

Search:
		Total Iterations: %d
		Average Iterations: %.1f

Size:
		Bytes In: %s
		Bytes Out: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Files/Second: %.2f

Directories:
		Created: %d
		Scanned: %d`,
		atomic.LoadInt64(&s.TotalFilesFound),
		processed,
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesDegraded),
		atomic.LoadInt64(&s.FilesShortCircuited),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.DuplicatesFound),
		atomic.LoadInt64(&s.DuplicatesRenamed),
		atomic.LoadInt64(&s.DuplicatesSkipped),
		atomic.LoadInt64(&s.DuplicatesReplaced),
		atomic.LoadInt64(&s.TotalIterations),
		avgIterations,
		formatBytes(bytesIn),
		formatBytes(bytesOut),
		saved,
		s.GetDuration(),
		s.GetFilesPerSecond(),
		atomic.LoadInt64(&s.DirectoriesCreated),
		atomic.LoadInt64(&s.DirectoriesScanned))
}

// GetDomainBreakdown returns a formatted breakdown of compressed files per domain.
func (s *Statistics) GetDomainBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.DomainStats) == 0 {
		return "No domain statistics available"
	}

	domains := make([]string, 0, len(s.DomainStats))
	for d := range s.DomainStats {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	result := "Domain Breakdown:\n"
	for _, d := range domains {
		result += fmt.Sprintf("  %s: %d\n", d, s.DomainStats[d])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetFilesWithErrors returns the number of failed files.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}

// GetFilesPerSecond returns the average number of files processed per second.
func (s *Statistics) GetFilesPerSecond() float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.FilesPerSecond
}
