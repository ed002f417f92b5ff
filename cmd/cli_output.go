package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[1;31m"
	colorWhite = "\033[0;37m"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, err.Error(), colorReset)
	os.Exit(1)
}

func infof(msg string, format ...interface{}) {
	formatted := fmt.Sprintf(msg, format...)
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorWhite, formatted, colorReset)
}

// writeOutput hands stdout to write, or a newly created OutputFile when one
// is configured.
func writeOutput(cfg Config, write func(w io.Writer) error) error {
	if cfg.OutputFile == "" {
		return write(os.Stdout)
	}

	f, err := os.Create(cfg.OutputFile)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
