package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelfx/internal/pipeline"
)

const stdioPath = "-"

func newApplyCmd(c *cli) *cobra.Command {
	var (
		flags  effectFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "apply <input>",
		Short: "Apply one effect to an image",
		Long: "Apply one effect to an image and write the encoded result.\n" +
			"Use - as input to read stdin and -o - to write stdout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, opts, err := flags.resolve(c.cfg.Engine)
			if err != nil {
				return err
			}

			data, err := readInput(cmd, args[0], c.cfg.Engine.MaxInputBytes)
			if err != nil {
				return err
			}

			out, err := pipeline.NewEngine(opts).Process(cmd.Context(), data, kind, flags.strength)
			if err != nil {
				return err
			}

			if output == stdioPath {
				_, err := cmd.OutOrStdout().Write(out.Data)
				return err
			}
			if output == "" {
				dir := "."
				if args[0] != stdioPath {
					dir = filepath.Dir(args[0])
				}
				output = filepath.Join(dir, pipeline.ExportFilename(c.cfg.Engine.ExportPrefix, out.Kind, out.Format, c.now()))
			}
			if err := os.WriteFile(output, out.Data, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			c.logger.WithFields(logrus.Fields{
				"effect":   out.Kind.String(),
				"strength": flags.strength,
				"input":    humanize.Bytes(uint64(len(data))),
				"output":   humanize.Bytes(uint64(len(out.Data))),
			}).Debug("applied effect")
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %s\n", output, out.Width, out.Height, humanize.Bytes(uint64(len(out.Data))))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to an export name next to the input)")
	return cmd
}

// readInput reads at most limit bytes from path, or from stdin for "-".
func readInput(cmd *cobra.Command, path string, limit int64) ([]byte, error) {
	var r io.Reader
	if path == stdioPath {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("input is larger than %s", humanize.IBytes(uint64(limit)))
	}
	return data, nil
}
