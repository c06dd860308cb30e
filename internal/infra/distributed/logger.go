package distributed

import (
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/lattiam/launchpad/pkg/logging"
)

// asynqLogger routes asynq's internal logging through a component logger
type asynqLogger struct {
	logger *logging.Logger
}

// NewAsynqLogger adapts logger to asynq.Logger
func NewAsynqLogger(logger *logging.Logger) asynq.Logger {
	return &asynqLogger{logger: logger}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug("%s", fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info("%s", fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn("%s", fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error("%s", fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error("%s", fmt.Sprint(args...))
	os.Exit(1)
}
