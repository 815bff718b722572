package telemetry

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	RecordsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_records_loaded",
		Help: "Raw records ingested from all corpora.",
	})
	RecordsRetained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_records_retained",
		Help: "Records retained by the keyword filter.",
	})
	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_dropped",
		Help: "Records dropped by the quality gate, by reason.",
	}, []string{"reason"})
	FormatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_format_failures",
		Help: "Records skipped because formatting or tokenization failed.",
	})

	OptimizerSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_optimizer_steps",
		Help: "Optimizer steps taken across all training runs.",
	})
	EvalCheckpoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_eval_checkpoints",
		Help: "Evaluation checkpoints computed across all training runs.",
	})

	PromptsExcluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_eval_prompts_excluded",
		Help: "Prompts excluded from the comparison report because a generation call failed.",
	})
)

// Snapshot gathers the default registry and renders it in the prometheus text
// exposition format. The pipeline writes this next to its reports at
// completion so counters survive the process.
func Snapshot() ([]byte, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("error gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, fmt.Errorf("error encoding metric family %v: %w", family.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
