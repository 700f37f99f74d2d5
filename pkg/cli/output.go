package cli

import (
	"fmt"
	"os"
)

// PrintError prints an error message with a red cross
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", ErrorStyle.Render(SymbolError), err.Error())
}

// PrintErrorf prints a formatted error message
func PrintErrorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", ErrorStyle.Render(SymbolError), fmt.Sprintf(format, args...))
}

// PrintInfo prints an informational message with an arrow
func PrintInfo(msg string) {
	fmt.Printf("  %s %s\n", SubtleStyle.Render(SymbolInfo), msg)
}
