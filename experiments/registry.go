package experiments

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrRunNotFound    = errors.New("run not found in registry")
	ErrDbAccessFailed = errors.New("run registry access failed")
)

// RunRecord is the persisted form of a completed Result plus the "selected"
// label. All results persist; selection is a label, never a deletion.
type RunRecord struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	RunName string `gorm:"size:100;not null;unique"`

	Rank           int
	Alpha          int
	Dropout        float64
	LearningRate   float64
	BatchSize      int
	GradAccumSteps int
	Epochs         int
	TargetModules  string `gorm:"size:500"`

	TrainLoss    float64
	BestEvalLoss float64

	PeakMemoryBytes  int64
	WallClockSeconds float64
	TrainableParams  int64
	TotalParams      int64

	ArtifactRef string `gorm:"size:500"`

	Selected    bool `gorm:"not null;default:false"`
	CompletedAt time.Time
}

func (r RunRecord) toResult() Result {
	return Result{
		Config: Config{
			RunName:        r.RunName,
			Rank:           r.Rank,
			Alpha:          r.Alpha,
			Dropout:        r.Dropout,
			LearningRate:   r.LearningRate,
			TargetModules:  strings.Split(r.TargetModules, ";"),
			BatchSize:      r.BatchSize,
			GradAccumSteps: r.GradAccumSteps,
			Epochs:         r.Epochs,
		},
		TrainLoss:        r.TrainLoss,
		BestEvalLoss:     r.BestEvalLoss,
		PeakMemoryBytes:  r.PeakMemoryBytes,
		WallClockSeconds: r.WallClockSeconds,
		TrainableParams:  r.TrainableParams,
		TotalParams:      r.TotalParams,
		ArtifactRef:      r.ArtifactRef,
		CompletedAt:      r.CompletedAt,
	}
}

// Registry stores completed run results in a local sqlite database so sweeps
// can be compared across pipeline invocations.
type Registry struct {
	db *gorm.DB
}

func OpenRegistry(path string) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening run registry at %v: %w", path, err)
	}

	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating run registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

func (r *Registry) SaveResult(result Result) error {
	record := RunRecord{
		Id:               uuid.New(),
		RunName:          result.Config.RunName,
		Rank:             result.Config.Rank,
		Alpha:            result.Config.Alpha,
		Dropout:          result.Config.Dropout,
		LearningRate:     result.Config.LearningRate,
		BatchSize:        result.Config.BatchSize,
		GradAccumSteps:   result.Config.GradAccumSteps,
		Epochs:           result.Config.Epochs,
		TargetModules:    strings.Join(result.Config.TargetModules, ";"),
		TrainLoss:        result.TrainLoss,
		BestEvalLoss:     result.BestEvalLoss,
		PeakMemoryBytes:  result.PeakMemoryBytes,
		WallClockSeconds: result.WallClockSeconds,
		TrainableParams:  result.TrainableParams,
		TotalParams:      result.TotalParams,
		ArtifactRef:      result.ArtifactRef,
		CompletedAt:      result.CompletedAt,
	}

	if err := r.db.Create(&record).Error; err != nil {
		slog.Error("sql error saving run result", "run", result.Config.RunName, "error", err)
		return ErrDbAccessFailed
	}
	return nil
}

// ListCompleted returns all persisted results in completion order, which is
// the tie-break order the selector relies on.
func (r *Registry) ListCompleted() ([]Result, error) {
	var records []RunRecord
	if err := r.db.Order("completed_at asc").Find(&records).Error; err != nil {
		slog.Error("sql error listing run results", "error", err)
		return nil, ErrDbAccessFailed
	}

	results := make([]Result, 0, len(records))
	for _, record := range records {
		results = append(results, record.toResult())
	}
	return results, nil
}

// MarkSelected labels exactly one run as selected, clearing any previous
// label.
func (r *Registry) MarkSelected(runName string) error {
	return r.db.Transaction(func(txn *gorm.DB) error {
		if err := txn.Model(&RunRecord{}).Where("selected = ?", true).Update("selected", false).Error; err != nil {
			slog.Error("sql error clearing selected label", "error", err)
			return ErrDbAccessFailed
		}

		update := txn.Model(&RunRecord{}).Where("run_name = ?", runName).Update("selected", true)
		if update.Error != nil {
			slog.Error("sql error marking run selected", "run", runName, "error", update.Error)
			return ErrDbAccessFailed
		}
		if update.RowsAffected == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// SelectedRun returns the run currently labeled selected, if any.
func (r *Registry) SelectedRun() (Result, bool, error) {
	var record RunRecord
	err := r.db.First(&record, "selected = ?", true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, false, nil
		}
		slog.Error("sql error reading selected run", "error", err)
		return Result{}, false, ErrDbAccessFailed
	}
	return record.toResult(), true, nil
}
