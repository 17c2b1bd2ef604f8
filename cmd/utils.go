// File: cmd/utils.go
package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// readStdin checks if there's piped input and reads it.
// The os.Stdin.Stat() check can be unreliable in debugging contexts,
// so this is only trusted for real terminal runs.
func readStdin() string {
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		// Stdin is being piped
		reader := bufio.NewReader(os.Stdin)
		var buffer bytes.Buffer
		if _, err := io.Copy(&buffer, reader); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading from stdin: %v\n", err)
			return ""
		}
		return buffer.String()
	}
	return ""
}

func hasStdinData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// newMessageID mints a transcript message id.
func newMessageID() string {
	return uuid.NewString()
}
