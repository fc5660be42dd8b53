// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/gelf"
)

// New returns a logger for cfg. verbose forces debug level. The returned
// cleanup flushes the logger and closes the GELF socket.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}

	var gw *gelf.Writer
	if cfg.GelfAddr != "" {
		var err error
		gw, err = gelf.New(cfg.GelfAddr, "grantflow")
		if err != nil {
			return nil, nil, fmt.Errorf("logging: gelf %s: %w", cfg.GelfAddr, err)
		}
		// GELF always receives JSON so fields survive as _field attributes.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), gw, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	cleanup := func() {
		_ = logger.Sync()
		if gw != nil {
			_ = gw.Close()
		}
	}
	return logger, cleanup, nil
}
