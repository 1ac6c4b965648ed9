//go:build !linux

package locator

import (
	"context"
	"errors"
)

// ProcfsProvider is only available on Linux.
type ProcfsProvider struct{}

// NewProcfsProvider always fails outside Linux.
func NewProcfsProvider(string) (*ProcfsProvider, error) {
	return nil, errors.New("procfs provider is only supported on linux")
}

func (*ProcfsProvider) Processes(context.Context) ([]Handle, error) {
	return nil, errors.New("procfs provider is only supported on linux")
}

func (*ProcfsProvider) Process(context.Context, int32) (Handle, error) {
	return nil, errors.New("procfs provider is only supported on linux")
}
