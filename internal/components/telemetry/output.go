package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// MessageOutput receives the full text of every HTTP exchange made by an
// instrumented client, keyed by request id.
type MessageOutput interface {
	Write(id string, contents string)
}

// DirOutput writes each message to its own file in a directory.
type DirOutput struct {
	directory string
}

// NewDirOutput empties dir (creating it if needed) and writes messages into it.
func NewDirOutput(dir string) (DirOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return DirOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return DirOutput{}, fmt.Errorf("create message output: %w", err)
	}
	return DirOutput{directory: dir}, nil
}

func (o DirOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message file", "id", id, "err", err)
	}
}
