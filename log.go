package qpack

import "go.uber.org/zap"

// logged is embedded by Encoder and Decoder to give both a structured
// logger with a silent default, mirroring the teacher's logged/initLogging
// pattern but built on zap's SugaredLogger instead of the standard log
// package.
type logged struct {
	logger *zap.SugaredLogger
}

func (lg *logged) initLogging() {
	lg.logger = zap.NewNop().Sugar()
}

// SetLogger installs a custom logger. Passing nil restores the no-op default.
func (lg *logged) SetLogger(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	lg.logger = logger
}
