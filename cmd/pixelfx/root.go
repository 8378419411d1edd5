package main

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelfx/internal/config"
	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/logging"
	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/resize"
)

type cli struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logrus.Entry
	now    func() time.Time
}

func newRootCmd() *cobra.Command {
	c := &cli{now: time.Now}

	root := &cobra.Command{
		Use:          "pixelfx",
		Short:        "Apply pixel effects to images",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Configuration file (defaults to $PIXELFX_CONFIG)")
	root.PersistentFlags().StringVarP(&c.logLevel, "level", "l", "", "Log level")

	root.AddCommand(newApplyCmd(c), newBatchCmd(c), newEffectsCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	var (
		cfg config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}

	c.cfg = cfg
	c.logger = logging.NewWithOutput(cmd.ErrOrStderr(), "cli", cfg.Log.Level, cfg.Log.Format)
	return nil
}

// effectFlags are shared by every command that runs the engine. Zero values
// mean "use the configured engine setting".
type effectFlags struct {
	effect    string
	strength  int
	maxWidth  int
	maxHeight int
	format    string
	filter    string
	quality   int
}

func (f *effectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.effect, "effect", "e", "", "Effect to apply ("+kindNames()+")")
	cmd.Flags().IntVarP(&f.strength, "strength", "s", effect.DefaultStrength, "Effect strength from 0 to 100")
	cmd.Flags().IntVar(&f.maxWidth, "max-width", 0, "Maximum output width")
	cmd.Flags().IntVar(&f.maxHeight, "max-height", 0, "Maximum output height")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (png, jpeg, webp)")
	cmd.Flags().StringVar(&f.filter, "filter", "", "Resample filter (bilinear, catmullrom, nearest, box, lanczos)")
	cmd.Flags().IntVarP(&f.quality, "quality", "q", 0, "Encoder quality for lossy formats")
	_ = cmd.MarkFlagRequired("effect")
}

// resolve checks the effect arguments and merges the flags over the engine
// configuration.
func (f *effectFlags) resolve(base config.EngineConfig) (effect.Kind, pipeline.Options, error) {
	kind, err := effect.ParseKind(f.effect)
	if err != nil {
		return 0, pipeline.Options{}, err
	}
	if err := effect.ValidateStrength(f.strength); err != nil {
		return 0, pipeline.Options{}, err
	}

	opts := base.EngineOptions()
	if f.maxWidth > 0 {
		opts.MaxWidth = f.maxWidth
	}
	if f.maxHeight > 0 {
		opts.MaxHeight = f.maxHeight
	}
	if f.format != "" {
		opts.Format = f.format
	}
	if f.quality > 0 {
		opts.Quality = f.quality
	}
	if f.filter != "" {
		filter, err := resize.ParseFilter(f.filter)
		if err != nil {
			return 0, pipeline.Options{}, err
		}
		opts.Filter = filter
	}
	return kind, opts, nil
}

func kindNames() string {
	kinds := effect.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}
