// Package zapadapter backs the logger.Logger interface with zap.
package zapadapter

import (
	"go.uber.org/zap"

	"stormring/internal/logger"
)

// Adapter adapts a *zap.SugaredLogger to logger.Logger.
type Adapter struct {
	s *zap.SugaredLogger
}

var _ logger.Logger = Adapter{}

// New builds a console-encoded zap logger from zap's production config
// (info level and above, epoch-seconds timestamps under "ts") and wraps it
// as a logger.Logger.
func New(name string) (Adapter, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.ConsoleSeparator = " "
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return Adapter{}, func() {}, err
	}
	named := z.Named(name).Sugar()
	return Adapter{s: named}, func() { _ = z.Sync() }, nil
}

func (a Adapter) Debugf(format string, args ...interface{}) { a.s.Debugf(format, args...) }
func (a Adapter) Infof(format string, args ...interface{})  { a.s.Infof(format, args...) }
func (a Adapter) Errorf(format string, args ...interface{}) { a.s.Errorf(format, args...) }
