package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/format"
	"github.com/dunamismax/convertflow/internal/svg"
)

type convertOptions struct {
	from      string
	to        string
	width     uint32
	height    uint32
	settings  string
	quality   int
	overwrite bool
}

func (c *CLI) convertCommand() *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert INPUT [OUTPUT]",
		Short: "Convert an image file to another format",
		Long: `Convert reads INPUT, converts it and writes OUTPUT.

The source type comes from --from or the input extension and is sniffed
from the content when neither is known. The target type comes from --to or
the output extension and defaults to PNG. Without OUTPUT the result is
written next to INPUT with the target extension; use "-" for stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := ""
			if len(args) == 2 {
				output = args[1]
			}
			return c.runConvert(cmd, args[0], output, opts)
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "source type as MIME type or extension (default: from input name)")
	cmd.Flags().StringVar(&opts.to, "to", "", "target type as MIME type or extension (default: from output name, else png)")
	cmd.Flags().Uint32Var(&opts.width, "svg-width", 0, "raster width for SVG input")
	cmd.Flags().Uint32Var(&opts.height, "svg-height", 0, "raster height for SVG input")
	cmd.Flags().StringVar(&opts.settings, "settings", "", "raw JSON conversion settings")
	cmd.Flags().IntVar(&opts.quality, "quality", 0, "JPEG and WebP quality (1-100)")
	cmd.Flags().BoolVarP(&opts.overwrite, "force", "f", false, "overwrite an existing output file")

	return cmd
}

func (c *CLI) runConvert(cmd *cobra.Command, input, output string, opts convertOptions) error {
	settings, err := buildSettings(opts)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	source := resolveType(opts.from)
	if source == "" {
		source = typeFromPath(input)
	}
	target := resolveType(opts.to)
	if target == "" && output != "" && output != "-" {
		target = typeFromPath(output)
	}
	targetKind, ok := format.TargetKind(target)
	if !ok {
		targetKind = format.PNG
		target = targetKind.MIME()
	}
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "." + targetKind.Extension()
	}
	if output != "-" && !opts.overwrite {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output %s already exists (use --force to overwrite)", output)
		}
	}

	c.Logger.Debug("converting", "input", input, "source", displayType(source), "target", targetKind, "bytes", len(data))

	start := time.Now()
	converter := convert.Converter{
		Options: codec.Options{Quality: opts.quality},
		Logger:  converterLog{logger: c.Logger},
	}
	sink := convert.ProgressFunc(func(percent float64, message string) error {
		c.Logger.Info(message, "progress", fmt.Sprintf("%.0f%%", percent))
		return nil
	})

	out, err := converter.Convert(cmd.Context(), convert.Request{
		Data:       data,
		SourceType: source,
		TargetType: target,
		Settings:   settings,
	}, sink)
	if err != nil {
		return err
	}

	if output == "-" {
		_, err := c.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	c.Logger.Infof("Wrote %s (%d bytes, %s)", output, len(out), time.Since(start).Round(time.Millisecond))
	return nil
}

// buildSettings merges --settings with the SVG size flags. The flags win.
func buildSettings(opts convertOptions) (json.RawMessage, error) {
	raw := json.RawMessage(strings.TrimSpace(opts.settings))
	if opts.width == 0 && opts.height == 0 {
		if _, err := convert.ParseSettings(raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	svgSettings := convert.SVGSettings{Width: svg.DefaultWidth, Height: svg.DefaultHeight}
	parsed, err := convert.ParseSettings(raw)
	if err != nil {
		return nil, err
	}
	if s, ok := parsed.(convert.SVGSettings); ok {
		svgSettings = s
	}
	if opts.width != 0 {
		svgSettings.Width = opts.width
	}
	if opts.height != 0 {
		svgSettings.Height = opts.height
	}
	return convert.MarshalSettings(svgSettings)
}

// resolveType accepts a MIME type or a bare extension such as "jpg".
func resolveType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.Contains(value, "/") {
		return value
	}
	if strings.EqualFold(strings.TrimPrefix(value, "."), "svg") {
		return format.MIMESVG
	}
	if kind, ok := format.KindFromExtension(value); ok {
		return kind.MIME()
	}
	return value
}

func typeFromPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return resolveType(ext)
}

func displayType(mime string) string {
	if mime == "" {
		return "sniffed"
	}
	return mime
}

func (c *CLI) formatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.Stdout, "%-10s %-26s %-6s %s\n", "FORMAT", "MIME", "EXT", "ENCODE")
			for _, kind := range format.AllKinds() {
				encode := "yes"
				if kind == format.WebP && !codec.WebPEncodingAvailable() {
					encode = "no"
				}
				fmt.Fprintf(c.Stdout, "%-10s %-26s %-6s %s\n", kind, kind.MIME(), kind.Extension(), encode)
			}
			fmt.Fprintf(c.Stdout, "%-10s %-26s %-6s %s\n", "svg", format.MIMESVG, "svg", "input only")
			return nil
		},
	}
}
