package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// DATA OPERATIONS (DATA*)
	DATA_LOAD   LogCode = "DATA_LOAD"
	DATA_FILTER LogCode = "DATA_FILTER"
	DATA_CLEAN  LogCode = "DATA_CLEAN"
	DATA_SPLIT  LogCode = "DATA_SPLIT"
	DATA_FORMAT LogCode = "DATA_FORMAT"

	// MODEL OPERATIONS (MODEL*)
	MODEL_INFO  LogCode = "MODEL_INFO"
	MODEL_TRAIN LogCode = "MODEL_TRAIN"
	MODEL_EVAL  LogCode = "MODEL_EVAL"
	MODEL_SAVE  LogCode = "MODEL_SAVE"

	// RUN BOOKKEEPING (RUN*)
	RUN_START  LogCode = "RUN_START"
	RUN_ABORT  LogCode = "RUN_ABORT"
	RUN_SELECT LogCode = "RUN_SELECT"
	RUN_REPORT LogCode = "RUN_REPORT"
)

// InitLogging installs a default logger that fans out to a JSON handler on
// the run log file and a text handler on stderr. The JSON handler carries
// fixed attributes so logs from different pipeline invocations can be
// filtered apart.
func InitLogging(logFile io.Writer, pipelineID string) {
	jsonHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}).
		WithAttrs([]slog.Attr{
			slog.String("service_type", "pipeline"),
			slog.String("pipeline_id", pipelineID),
		})

	textHandler := slog.NewTextHandler(os.Stderr, nil)

	slog.SetDefault(slog.New(slogmulti.Fanout(jsonHandler, textHandler)))
}
