//go:build !linux

package receiver

import (
	"fmt"
	"os"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("receiver: serial not supported on this platform")
}
