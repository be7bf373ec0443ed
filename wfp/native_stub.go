//go:build !windows

package wfp

import (
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/dynload"
)

// The native engine only exists on Windows. Everything above the Platform
// interfaces still compiles and tests everywhere.

// VerifyABI has no native mirrors to check on this platform.
func VerifyABI() error { return nil }

// Engine is unavailable off Windows.
type Engine struct{}

func OpenEngine(log *zap.Logger) (*Engine, error) { return nil, ErrNotSupported }

func (e *Engine) EnableNetEvents(showAll bool) error { return ErrNotSupported }

func (e *Engine) Close() error { return nil }

func (e *Engine) Table() *dynload.Table { return nil }

func (e *Engine) Platform() Platform { return Platform{} }
