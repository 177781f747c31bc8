package commands

import (
	"os"
	"path/filepath"

	"github.com/Linkolnn/Icore/src/config"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Icore config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Icore: *config.NewDefaultConfig(),
	}
}

// newLogger returns the console logger of the node. With a log directory, every
// level from info up is also written to its own file.
func newLogger(level, logDir string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.Level = config.LogLevel(level)
	logger.Formatter = new(prefixed.TextFormatter)

	if logDir == "" {
		return logger, nil
	}

	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, err
	}

	pathMap := lfshook.PathMap{}
	for _, l := range []logrus.Level{
		logrus.DebugLevel,
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
	} {
		pathMap[l] = filepath.Join(logDir, "icore_"+l.String()+".log")
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return logger, nil
}
