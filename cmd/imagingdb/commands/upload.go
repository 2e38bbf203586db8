package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/czbiohub/imagingdb/pkg/uploader"
)

var uploadOverwrite bool

var uploadCmd = &cobra.Command{
	Use:   "upload <batch.csv>",
	Short: "Ingest the datasets listed in a batch descriptor",
	Long: `Ingest every dataset listed in a CSV batch descriptor.

The descriptor names one dataset per row with columns dataset_id and
file_name (required) plus description, parent_dataset_id, positions and
schema_filename (optional). Upload type, frames format, storage and
microscope come from the JSON config.

Examples:
  imagingdb upload batch.csv --config config.json --login db.json
  imagingdb upload batch.csv --config config.json --login db.json --overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadOverwrite, "overwrite", false,
		"replace existing storage objects and catalog rows")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer cat.Close()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}

	rows, err := uploader.ParseBatchCSV(args[0])
	if err != nil {
		return err
	}

	up, err := uploader.New(cat, backend, uploader.Options{
		UploadType:     cfg.UploadType,
		FramesFormat:   cfg.FramesFormat,
		Microscope:     cfg.Microscope,
		FilenameParser: cfg.FilenameParser,
		SchemaFilename: cfg.SchemaFilename,
		Workers:        cfg.Workers,
		Overwrite:      uploadOverwrite,
	})
	if err != nil {
		return err
	}

	results := up.Run(ctx, rows)
	failed := printResults(cmd, results)
	if failed > 0 {
		return fmt.Errorf("%d of %d datasets failed", failed, len(results))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d datasets uploaded\n", len(results))
	return nil
}

// printResults writes one line per batch row, failures on stderr, and returns
// the failure count.
func printResults(cmd *cobra.Command, results []uploader.Result) int {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s: %v\n", res.Serial, res.State, res.Err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", res.Serial, res.State)
		}
	}
	return failed
}
