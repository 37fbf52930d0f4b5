package monitor

import (
	"fmt"
	"iter"
	"os"

	"github.com/Murilovisque/logs/v3"
	"github.com/nxadm/tail"
)

// LogFile reads a whole log from the beginning every time Lines is ranged over.
// It never follows the file; the blocker re-reads the log in full each run.
type LogFile struct {
	path   string
	err    error
	logger logs.Logger
}

func OpenLogFile(path string) (*LogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file '%s' failed. Error: %w", path, err)
	}
	f.Close()
	return &LogFile{
		path:   path,
		logger: logs.NewChildLogger(logs.FixedFieldValue("log", path)),
	}, nil
}

func (lf *LogFile) Path() string {
	return lf.path
}

// Err reports the first read error of the last pass, if any.
func (lf *LogFile) Err() error {
	return lf.err
}

func (lf *LogFile) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		lf.err = nil
		tailedFile, err := tail.TailFile(lf.path, tail.Config{
			Follow:    false,
			ReOpen:    false,
			MustExist: true,
			Logger:    tail.DiscardingLogger,
		})
		if err != nil {
			lf.err = fmt.Errorf("read log file '%s' failed. Error: %w", lf.path, err)
			lf.logger.Errorf("log file unavailable. Error: %s", err)
			return
		}
		defer func() {
			// drain so the reader goroutine is never left blocked on a send
			tailedFile.Kill(nil)
			for range tailedFile.Lines {
			}
			tailedFile.Cleanup()
		}()
		for line := range tailedFile.Lines {
			if line.Err != nil {
				if lf.err == nil {
					lf.err = fmt.Errorf("read log file '%s' failed. Error: %w", lf.path, line.Err)
				}
				lf.logger.Errorf("failed reading line. Error: %s", line.Err)
				continue
			}
			if !yield(line.Text) {
				return
			}
		}
	}
}
