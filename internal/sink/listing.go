package sink

import (
	"fmt"
	"io"

	"github.com/loykin/cpueff/internal/locator"
)

// WriteListing writes one "pid | name" line per handle, in the given order.
func WriteListing(w io.Writer, handles []locator.Handle) error {
	for _, h := range handles {
		if _, err := fmt.Fprintf(w, "%d | %s\n", h.PID(), h.Name()); err != nil {
			return err
		}
	}
	return nil
}
