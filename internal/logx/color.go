package logx

import (
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[97;42m"
	colorYellow = "\033[90;43m"
	colorRed    = "\033[97;41m"
	colorBlue   = "\033[97;44m"
)

// ColorEnabled reports whether f is an interactive terminal.
func ColorEnabled(f *os.File) bool {
	if f == nil {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func ColorizeStatusWith(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	var c string
	switch {
	case status >= 500:
		c = colorRed
	case status >= 400:
		c = colorYellow
	case status >= 300:
		c = colorBlue
	default:
		c = colorGreen
	}
	return c + " " + s + " " + colorReset
}
