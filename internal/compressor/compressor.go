package compressor

import (
	"context"

	"media-compressor-go/internal/search"
)

// Task is a caller's compression request before validation.
type Task struct {
	InputPath  string
	OutputPath string
	// TargetSpec is a size like "500KB" or "2MB".
	TargetSpec string
	// TargetPercent, when positive and TargetSpec is empty, sets the target
	// to this percentage of the input size.
	TargetPercent float64
	// Observer receives this task's search events in addition to the
	// service-wide observers.
	Observer search.Observer
}

// Compressor defines the interface for size-targeted compression.
type Compressor interface {
	// Compress runs one task and always returns a result record.
	Compress(ctx context.Context, task Task) *Result
	// CompressAll runs tasks concurrently. Results keep the order of tasks.
	CompressAll(ctx context.Context, tasks []Task) []*Result
}
