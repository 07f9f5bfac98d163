// README: zap logger construction.
package infra

import "go.uber.org/zap"

// NewLogger returns a production JSON logger. Set LIFELINE_DEBUG_LOG for the
// human-readable development encoder.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
