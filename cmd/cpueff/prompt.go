package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoName = errors.New("a process name is required")

// promptName asks for the process name on in until a non-empty line is read.
func promptName(in io.Reader, out io.Writer) (string, error) {
	sc := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "Process Name: ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errNoName
		}
		if name := strings.TrimSpace(sc.Text()); name != "" {
			return name, nil
		}
	}
}
