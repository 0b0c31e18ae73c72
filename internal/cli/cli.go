// Package cli implements the convertflow command-line interface.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Stdout io.Writer
}

// New creates a CLI that logs to w at level and writes command output to
// stdout.
func New(w, stdout io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Stdout: stdout,
	}
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "convertflow",
		Short:        "Convert images between raster formats",
		Long:         `convertflow converts raster images and SVG documents between PNG, JPEG, GIF, BMP, TIFF, WebP, ICO, TGA, PNM, QOI, Farbfeld, OpenEXR and Radiance HDR.`,
		SilenceUsage: true,
	}

	root.AddCommand(c.convertCommand())
	root.AddCommand(c.formatsCommand())

	return root
}

// converterLog routes converter diagnostics to debug level.
type converterLog struct {
	logger *log.Logger
}

func (l converterLog) Printf(format string, v ...any) {
	l.logger.Debugf(format, v...)
}
