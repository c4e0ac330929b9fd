package opt

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
)

// TextReporter writes human-readable progress to w.
type TextReporter struct {
	NopObserver
	w io.Writer
}

// NewTextReporter creates a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) RunStarted(info RunInfo) {
	if info.Unbounded() {
		fmt.Fprintln(r.w, "Running until interrupted ...")
		return
	}
	if info.Estimate > 0 {
		fmt.Fprintf(r.w, "Time estimation: %s\n", info.Estimate.Round(time.Second))
	}
}

func (r *TextReporter) RoundStarted(round, total int) {
	if total > 0 {
		fmt.Fprintf(r.w, "Iteration %d/%d\n", round, total)
		return
	}
	fmt.Fprintf(r.w, "Iteration %d\n", round)
}

func (r *TextReporter) Improved(round int, value float64, best []eval.Arg) {
	fmt.Fprintf(r.w, "\t Current Max value: %.2f %% -> %s\n", value, formatArgs(best))
}

func (r *TextReporter) RoundFinished(rr RoundResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "Max value: %.4f %% -> %s", rr.BestValue, formatArgs(rr.Best))
	for _, pb := range rr.Bounds {
		fmt.Fprintf(&b, "\n\t%s Range %.4f - %.4f", pb.Name, pb.Low, pb.High)
	}
	fmt.Fprintf(r.w, "%s\n\n", b.String())
}

func (r *TextReporter) RunFinished(res *Result, err error) {
	if res == nil {
		return
	}
	fmt.Fprintf(r.w, "Execution time: %s\n", res.Elapsed.Round(time.Millisecond))
}

func formatArgs(args []eval.Arg) string {
	if len(args) == 0 {
		return "(none)"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%s: %.4f", a.Name, a.Value)
	}
	return strings.Join(parts, ", ")
}
