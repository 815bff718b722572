package dataset

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/dzuokumor/LoRA/corpus"
	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// Split holds the two disjoint example sequences a training run consumes.
// Results from runs trained on different splits are not comparable; the
// partition is a pure function of the cleaned record list and the seed.
type Split struct {
	Train []FormattedExample
	Eval  []FormattedExample
}

// SplitError means the partition itself is impossible. It is fatal: nothing
// downstream can run without a valid split.
type SplitError struct {
	Ratio   float64
	Records int
	Reason  string
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("cannot split %d records at ratio %v: %v", e.Records, e.Ratio, e.Reason)
}

// FormatStats counts records excluded by formatting failures.
type FormatStats struct {
	Skipped int
}

// SplitAndFormat deterministically shuffles the records with the given seed,
// cuts at ratio, and renders each record through the template and tokenizer.
// Sequences longer than maxLength are truncated from the end by the
// tokenizer, never dropped. Records that fail to format are skipped and
// counted, not fatal.
func SplitAndFormat(records []corpus.RawRecord, ratio float64, seed int64, systemPrompt string, template TemplateFunc, tokenizer model.Tokenizer, maxLength int) (Split, FormatStats, error) {
	if ratio <= 0 || ratio >= 1 {
		return Split{}, FormatStats{}, &SplitError{Ratio: ratio, Records: len(records), Reason: "ratio must be in (0, 1)"}
	}
	if len(records) < 2 {
		return Split{}, FormatStats{}, &SplitError{Ratio: ratio, Records: len(records), Reason: "need at least 2 records"}
	}

	indices := make([]int, len(records))
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	cut := int(float64(len(records)) * ratio)
	cut = max(1, min(cut, len(records)-1))

	var stats FormatStats
	format := func(picked []int) []FormattedExample {
		examples := make([]FormattedExample, 0, len(picked))
		for _, idx := range picked {
			example, err := formatRecord(records[idx], idx, systemPrompt, template, tokenizer, maxLength)
			if err != nil {
				stats.Skipped++
				telemetry.FormatFailures.Inc()
				slog.Warn("skipping unformattable record", "error", err, "code", logging.DATA_FORMAT)
				continue
			}
			examples = append(examples, example)
		}
		return examples
	}

	split := Split{
		Train: format(indices[:cut]),
		Eval:  format(indices[cut:]),
	}

	slog.Info("dataset split",
		"records", len(records), "train", len(split.Train), "eval", len(split.Eval),
		"ratio", ratio, "seed", seed, "skipped", stats.Skipped,
		"code", logging.DATA_SPLIT)
	return split, stats, nil
}
