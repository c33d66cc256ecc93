package monitoring

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for ConfigureLogFile.
const (
	LogMaxSizeMB  = 50
	LogMaxBackups = 5
	LogMaxAgeDays = 28
)

// ConfigureLogFile sends the standard logger to stderr and to a rotating
// file at path. The returned closer releases the file; call it on shutdown.
// An empty path leaves logging on stderr and returns a no-op closer.
func ConfigureLogFile(path string) io.Closer {
	if path == "" {
		return closerFunc(func() error { return nil })
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    LogMaxSizeMB,
		MaxBackups: LogMaxBackups,
		MaxAge:     LogMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return closerFunc(func() error {
		log.SetOutput(os.Stderr)
		return lj.Close()
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
