package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"os"
	"time"
)

// Config defines Logger configuration.
type Config struct {
	// zapcore.Level at 0 is for info level.
	Level  zapcore.Level `yaml:"level" default:"0"`
	Output string        `yaml:"output"`
	// Interval for periodic logging.
	Interval time.Duration `yaml:"interval" default:"20s"`

	Options `yaml:"options"`
}

// Validate checks constraints in the supplied Config configuration and returns an error if they are violated.
// Also configures the log output if it is not configured:
// systemd-journald is used when the daemon is running under systemd, otherwise stderr.
func (l *Config) Validate() error {
	if l.Interval <= 0 {
		return errors.New("periodic logging interval must be positive")
	}

	if l.Output == "" {
		if _, ok := os.LookupEnv("NOTIFY_SOCKET"); ok {
			// systemd sets NOTIFY_SOCKET for Type=notify supervised services,
			// which is the default setting for this service.
			l.Output = JOURNAL
		} else {
			l.Output = CONSOLE
		}
	}

	return AssertOutput(l.Output)
}
