package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelfx/internal/pipeline"
)

type batchResult struct {
	Input    string             `json:"input"`
	Artifact *pipeline.Artifact `json:"artifact,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func newBatchCmd(c *cli) *cobra.Command {
	var (
		flags   effectFlags
		outDir  string
		workers int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "batch <input>...",
		Short: "Apply one effect to many images in parallel",
		Long: "Apply one effect to every input. Each result is written to\n" +
			"<out-dir>/<input name>/<export name>.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, opts, err := flags.resolve(c.cfg.Engine)
			if err != nil {
				return err
			}

			processor, err := pipeline.NewLocalProcessor(pipeline.NewEngine(opts), outDir, c.cfg.Engine.ExportPrefix, c.cfg.Engine.MaxInputBytes)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			jobIDs := batchJobIDs(args)
			results := make([]batchResult, len(args))
			var mu sync.Mutex
			failed := 0

			pool := workerpool.New(max(1, workers))
			for i, input := range args {
				pool.Submit(func() {
					res := batchResult{Input: input}
					result, err := processor.Process(ctx, pipeline.Request{
						JobID:      jobIDs[i],
						SourceType: pipeline.SourceTypeLocalFile,
						ObjectKey:  input,
						Effect:     kind,
						Strength:   flags.strength,
					})
					log := c.logger.WithField("input", input)
					if err != nil {
						res.Error = err.Error()
						log.WithError(err).Warn("effect failed")
					} else {
						res.Artifact = &result.Artifact
						log.WithFields(logrus.Fields{
							"output": result.Artifact.Path,
							"bytes":  humanize.Bytes(uint64(result.Artifact.Bytes)),
						}).Debug("effect applied")
					}

					mu.Lock()
					results[i] = res
					if err != nil {
						failed++
					}
					mu.Unlock()
				})
			}
			pool.StopWait()

			if err := writeBatchResults(cmd, results, asJSON); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(args))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory for results")
	cmd.Flags().IntVarP(&workers, "jobs", "j", runtime.NumCPU(), "Number of images processed at once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}

// batchJobIDs derives one directory name per input from its base name,
// suffixing repeats so two inputs never share an output directory. Names are
// compared after sanitizing, since that is the form written to disk.
func batchJobIDs(inputs []string) []string {
	used := make(map[string]bool, len(inputs))
	ids := make([]string, len(inputs))
	for i, input := range inputs {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if base == "" || base == "." {
			base = "image"
		}
		base = pipeline.PathToken(base)
		id := base
		for n := 2; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true
		ids[i] = id
	}
	return ids
}

func writeBatchResults(cmd *cobra.Command, results []batchResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, res := range results {
		if res.Artifact == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Input, res.Error)
			continue
		}
		a := res.Artifact
		fmt.Fprintf(out, "%s -> %s %dx%d %s\n", res.Input, a.Path, a.Width, a.Height, humanize.Bytes(uint64(a.Bytes)))
	}
	return nil
}
