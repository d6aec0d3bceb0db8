package config

import (
	"fmt"
	"os"
)

// Exitf пишет сообщение в stderr и завершает процесс с кодом 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
