package cmd

import (
	"os"
	"strconv"

	"github.com/muesli/termenv"
)

// ANSI color codes for terminal output. applyColorMode clears them when
// stdout cannot render color.
var (
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[0;33m"
	colorCyan   = "\033[0;36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
	colorReset  = "\033[0m"
)

// colorMode is "auto", "always" or "never".
var colorMode = "auto"

func applyColorMode() {
	switch colorMode {
	case "always":
		return
	case "never":
		disableColors()
	default:
		if shouldDisableColors() {
			disableColors()
		}
	}
}

func disableColors() {
	colorRed = ""
	colorGreen = ""
	colorYellow = ""
	colorCyan = ""
	colorDim = ""
	colorBold = ""
	colorReset = ""
}

func shouldDisableColors() bool {
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	if os.Getenv("TERM") == "dumb" {
		return true
	}
	return termenv.NewOutput(os.Stdout).ColorProfile() == termenv.Ascii
}

// termWidth returns the width of the terminal on stdout: $COLUMNS, then
// the ioctl answer, then 80.
func termWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	if n := getTermWidthIoctl(); n > 0 {
		return n
	}
	return 80
}
