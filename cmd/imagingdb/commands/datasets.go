package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/czbiohub/imagingdb/pkg/catalog"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the cataloged datasets",
	Long: `List every dataset in the catalog with its type, acquisition time,
microscope and description.

Examples:
  imagingdb datasets --login db.json`,
	Args: cobra.NoArgs,
	RunE: runDatasets,
}

func runDatasets(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer cat.Close()

	var datasets []catalog.DataSet
	err = cat.SessionScope(ctx, func(_ context.Context, s *catalog.Session) error {
		datasets, err = s.ListDataSets()
		return err
	})
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		fmt.Println("No datasets found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"SERIAL", "TYPE", "ACQUIRED", "MICROSCOPE", "DESCRIPTION"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, ds := range datasets {
		kind := "file"
		if ds.Frames {
			kind = "frames"
		}
		table.Append([]string{
			ds.DatasetSerial,
			kind,
			ds.DateTime.Format("2006-01-02 15:04:05"),
			ds.Microscope,
			ds.Description,
		})
	}
	table.Render()
	return nil
}
