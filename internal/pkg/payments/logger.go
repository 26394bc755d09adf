package payments

import "github.com/gofiber/fiber/v2/log"

// Logger receives the log records produced by decision handling. Tests swap
// in a recorder to count records per level.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type fiberLogger struct{}

// DefaultLogger writes through fiber's global logger.
func DefaultLogger() Logger {
	return fiberLogger{}
}

func (fiberLogger) Infof(format string, v ...interface{})  { log.Infof(format, v...) }
func (fiberLogger) Warnf(format string, v ...interface{})  { log.Warnf(format, v...) }
func (fiberLogger) Errorf(format string, v ...interface{}) { log.Errorf(format, v...) }
