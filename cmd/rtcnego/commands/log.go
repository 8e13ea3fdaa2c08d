package commands

import (
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

func newLogger(level, file string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.Formatter = new(prefixed.TextFormatter)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.Level = lvl

	if file != "" {
		logger.Hooks.Add(lfshook.NewHook(file, &logrus.JSONFormatter{}))
	}
	return logger, nil
}
