package compressor

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the record reported once per request.
type Result struct {
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	InputPath        string `json:"input_path,omitempty"`
	OutputPath       string `json:"output_path,omitempty"`
	Domain           string `json:"domain,omitempty"`
	OriginalSize     int64  `json:"original_size"`
	CompressedSize   int64  `json:"compressed_size"`
	FinalSize        int64  `json:"final_size"`
	TargetSize       int64  `json:"target_size"`
	CompressionRatio string `json:"compression_ratio,omitempty"`
	Accuracy         string `json:"accuracy,omitempty"`
	SizeDifference   int64  `json:"size_difference_bytes"`
	IterationsUsed   int    `json:"iterations_used"`
	ParameterUsed    string `json:"parameter_used,omitempty"`
	Termination      string `json:"termination,omitempty"`
	ShortCircuit     bool   `json:"short_circuit,omitempty"`
	Degraded         bool   `json:"degraded,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Pages            int    `json:"pages,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

// Succeeded reports whether the request produced an output.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// JSON encodes the record on one line.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// complete derives the summary fields from the sizes.
func (r *Result) complete() {
	r.FinalSize = r.CompressedSize
	r.SizeDifference = r.FinalSize - r.TargetSize
	r.CompressionRatio = CompressionRatio(r.OriginalSize, r.FinalSize)
	r.Accuracy = Accuracy(r.FinalSize, r.TargetSize)
}

// CompressionRatio returns the saved share of original as "62.50%".
func CompressionRatio(original, final int64) string {
	if original <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", (1-float64(final)/float64(original))*100)
}

// Accuracy returns how close final is to target as "97.3%", clamped at 0.
func Accuracy(final, target int64) string {
	if target <= 0 {
		return "0.0%"
	}
	diff := math.Abs(float64(final - target))
	return fmt.Sprintf("%.1f%%", math.Max(0, 100-diff/float64(target)*100))
}
