package core

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NewLogger builds the logger the engine and providers log through.
func NewLogger(cfg LogConfiguration) (*log.Logger, error) {
	l := log.New()

	level := log.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = log.ParseLevel(cfg.Level); err != nil {
			return nil, err
		}
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format '%s'", cfg.Format)
	}
	return l, nil
}
