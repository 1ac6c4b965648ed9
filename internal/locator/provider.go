package locator

import (
	"fmt"
	"strings"
)

// NewProvider builds the provider named by kind: "gopsutil" (default) or "procfs".
func NewProvider(kind string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "gopsutil":
		return NewGopsutilProvider(), nil
	case "procfs":
		p, err := NewProcfsProvider("")
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown process provider %q", kind)
	}
}
