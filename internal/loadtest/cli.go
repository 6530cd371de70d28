package loadtest

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/lifeboat/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends logs to stdout and, when logFile is set, to that file too.
// It returns a function closing the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	closer := func() {}
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return closer, fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = func() { _ = file.Close() }
	}

	logger.SetOutput(w)
	if err := logger.Init(); err != nil {
		closer()
		return func() {}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closer, nil
}
