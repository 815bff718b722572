package corpus

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

type Source string

const (
	// SourceGeneral is the broad instruction-following corpus.
	SourceGeneral Source = "general"
	// SourceDomainQA is the domain question/answer corpus.
	SourceDomainQA Source = "domain_qa"
)

// RawRecord is a single instruction/response pair as ingested. Records are
// immutable after ingestion; every later stage works on copies or subsequences.
type RawRecord struct {
	Source      Source `json:"source"`
	Instruction string `json:"instruction"`
	Response    string `json:"response"`
}

// ReadJSONL reads one record per line. Lines that are not valid JSON abort
// the load: a malformed corpus file is an operator problem, not a record to
// silently skip.
func ReadJSONL(r io.Reader, source Source) ([]RawRecord, error) {
	dec := json.NewDecoder(r)

	records := make([]RawRecord, 0)
	for {
		var rec RawRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error parsing record %d from %v corpus: %w", len(records), source, err)
		}
		rec.Source = source
		records = append(records, rec)
	}

	telemetry.RecordsLoaded.Add(float64(len(records)))
	slog.Info("corpus loaded", "source", source, "records", len(records), "code", logging.DATA_LOAD)
	return records, nil
}

// ReadCSV reads records from a CSV file with an "instruction" and a
// "response" column (extra columns are ignored).
func ReadCSV(r io.Reader, source Source) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("error reading header of %v corpus: %w", source, err)
	}

	instructionCol, responseCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "instruction", "question":
			instructionCol = i
		case "response", "answer", "output":
			responseCol = i
		}
	}
	if instructionCol < 0 || responseCol < 0 {
		return nil, fmt.Errorf("%v corpus is missing instruction/response columns, got %v", source, header)
	}

	records := make([]RawRecord, 0)
	for {
		line, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error parsing record %d from %v corpus: %w", len(records), source, err)
		}
		if len(line) <= instructionCol || len(line) <= responseCol {
			return nil, fmt.Errorf("record %d in %v corpus has %d fields, expected at least %d", len(records), source, len(line), max(instructionCol, responseCol)+1)
		}
		records = append(records, RawRecord{
			Source:      source,
			Instruction: line[instructionCol],
			Response:    line[responseCol],
		})
	}

	telemetry.RecordsLoaded.Add(float64(len(records)))
	slog.Info("corpus loaded", "source", source, "records", len(records), "code", logging.DATA_LOAD)
	return records, nil
}
