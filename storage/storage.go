package storage

import (
	"fmt"
	"io"
	"path/filepath"
)

// Storage is the artifact and report sink. Run artifacts are write-once: a
// run writes its adapter under its own run name and nothing rewrites it.
type Storage interface {
	Read(path string) (io.ReadCloser, error)

	Write(path string, data io.Reader) error

	Delete(path string) error

	List(path string) ([]string, error)

	Exists(path string) (bool, error)

	Size(path string) (int64, error)

	// Zip archives the directory at path into path + ".zip".
	Zip(path string) error

	Usage() (UsageStats, error)

	Location() string
}

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// RunPath is the directory owned by one training run.
func RunPath(runName string) string {
	return filepath.Join("runs", runName)
}

// AdapterPath is the finalized adapter location within a run directory. The
// serving layer loads adapters from here after selection.
func AdapterPath(runName string) string {
	return filepath.Join(RunPath(runName), "final", "adapter.bin")
}

// RunConfigPath holds the frozen config a run was started with.
func RunConfigPath(runName string) string {
	return filepath.Join(RunPath(runName), "config.json")
}

// ReportPath locates the comparison report files read by the serving layer.
func ReportPath(name string) string {
	return filepath.Join("reports", name)
}

func LogPath(pipelineID string) string {
	return filepath.Join("logs", fmt.Sprintf("%v.log", pipelineID))
}
