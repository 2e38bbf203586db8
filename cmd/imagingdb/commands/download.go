package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/czbiohub/imagingdb/pkg/downloader"
)

var downloadFlags struct {
	dest       string
	channels   []string
	positions  []int
	times      []int
	slices     []int
	noData     bool
	noMetadata bool
}

var downloadCmd = &cobra.Command{
	Use:   "download <dataset-serial>",
	Short: "Re-materialize a dataset into a local folder",
	Long: `Download a dataset into a fresh <dest>/<serial> folder: the selected
plane objects (or the opaque file), global_metadata.json and frames_meta.csv.

Channels accept names or numeric indices; positions, times and slices take
numeric coordinates. Filters combine with AND.

Examples:
  imagingdb download ML-2021-06-09-10-00-00-0001 --dest /data --config config.json --login db.json
  imagingdb download ML-2021-06-09-10-00-00-0001 --dest /data -c phase -p 0 -p 1 --config config.json --login db.json
  imagingdb download ML-2021-06-09-10-00-00-0001 --dest /data --no-data --config config.json --login db.json`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringVar(&downloadFlags.dest, "dest", "", "destination parent folder (required)")
	f.StringSliceVarP(&downloadFlags.channels, "channels", "c", nil, "channel names or indices")
	f.IntSliceVarP(&downloadFlags.positions, "positions", "p", nil, "position indices")
	f.IntSliceVarP(&downloadFlags.times, "times", "t", nil, "time indices")
	f.IntSliceVarP(&downloadFlags.slices, "slices", "z", nil, "slice indices")
	f.BoolVar(&downloadFlags.noData, "no-data", false, "skip payloads, write metadata only")
	f.BoolVar(&downloadFlags.noMetadata, "no-metadata", false, "skip metadata, write payloads only")
	_ = downloadCmd.MarkFlagRequired("dest")
}

func runDownload(cmd *cobra.Command, args []string) error {
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

	d, err := downloader.New(cat, backend, cfg.Workers)
	if err != nil {
		return err
	}

	serial := args[0]
	err = d.Run(ctx, downloader.Request{
		Serial:       serial,
		Dest:         downloadFlags.dest,
		Channels:     downloadFlags.channels,
		Positions:    downloadFlags.positions,
		Times:        downloadFlags.times,
		Slices:       downloadFlags.slices,
		SkipData:     downloadFlags.noData,
		SkipMetadata: downloadFlags.noMetadata,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s downloaded to %s\n", serial, downloadFlags.dest)
	return nil
}
