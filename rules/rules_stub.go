//go:build !windows

package rules

import (
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/dynload"
)

// The policy store only exists on Windows.

type PolicyStore struct{}

func OpenPolicyStore(table *dynload.Table, log *zap.Logger) (*PolicyStore, error) {
	return nil, errUnsupported
}

func (p *PolicyStore) Close() error { return nil }

func (p *PolicyStore) Rules(showAll bool) ([]Rule, error) { return nil, errUnsupported }
