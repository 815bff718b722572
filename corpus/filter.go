package corpus

import (
	"log/slog"
	"strings"

	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// Filter retains records whose combined instruction+response text contains at
// least one keyword (case-insensitive substring match). The filter is a
// positive selection: an empty keyword set retains nothing. Relative order of
// surviving records is preserved.
func Filter(records []RawRecord, keywords []string) []RawRecord {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}

	retained := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		text := strings.ToLower(rec.Instruction + " " + rec.Response)
		for _, kw := range lowered {
			if strings.Contains(text, kw) {
				retained = append(retained, rec)
				break
			}
		}
	}

	telemetry.RecordsRetained.Add(float64(len(retained)))
	slog.Info("keyword filter applied",
		"input", len(records), "retained", len(retained), "keywords", len(lowered),
		"code", logging.DATA_FILTER)
	return retained
}
