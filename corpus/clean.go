package corpus

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// DropCounts attributes each dropped record to the first failing check, in
// the order the checks run: empty, then too short, then duplicate.
type DropCounts struct {
	Empty     int `json:"empty"`
	TooShort  int `json:"too_short"`
	Duplicate int `json:"duplicate"`
}

func (d DropCounts) Total() int {
	return d.Empty + d.TooShort + d.Duplicate
}

// Clean applies the quality gate in a single left-to-right pass: drops
// records with an empty instruction or response (after trimming whitespace),
// responses shorter than minResponseLen characters, and exact
// (instruction, response) duplicates of an earlier record. The output
// contains no two records with an identical pair, and retains input order.
func Clean(records []RawRecord, minResponseLen int) ([]RawRecord, DropCounts) {
	var counts DropCounts
	seen := make(map[string]struct{}, len(records))

	cleaned := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		instruction := strings.TrimSpace(rec.Instruction)
		response := strings.TrimSpace(rec.Response)

		if instruction == "" || response == "" {
			counts.Empty++
			continue
		}
		// Length is a character threshold, not bytes.
		if utf8.RuneCountInString(response) < minResponseLen {
			counts.TooShort++
			continue
		}

		// \x00 cannot occur in trimmed text, so the joined key is unambiguous.
		key := instruction + "\x00" + response
		if _, ok := seen[key]; ok {
			counts.Duplicate++
			continue
		}
		seen[key] = struct{}{}

		cleaned = append(cleaned, RawRecord{
			Source:      rec.Source,
			Instruction: instruction,
			Response:    response,
		})
	}

	telemetry.RecordsDropped.WithLabelValues("empty").Add(float64(counts.Empty))
	telemetry.RecordsDropped.WithLabelValues("too_short").Add(float64(counts.TooShort))
	telemetry.RecordsDropped.WithLabelValues("duplicate").Add(float64(counts.Duplicate))

	slog.Info("quality gate applied",
		"input", len(records), "cleaned", len(cleaned),
		"empty", counts.Empty, "too_short", counts.TooShort, "duplicate", counts.Duplicate,
		"code", logging.DATA_CLEAN)
	return cleaned, counts
}
