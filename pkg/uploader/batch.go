package uploader

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row is one dataset in a batch descriptor.
type Row struct {
	// DatasetID is the dataset serial. Required.
	DatasetID string

	// FileName is the source file or directory. Required.
	FileName string

	Description     string
	ParentDatasetID string

	// Positions restricts ome_tiff ingestion to the listed position labels.
	// Nil means all positions.
	Positions []string

	// SchemaFilename overrides the config's metadata schema for this row.
	SchemaFilename string
}

// ParseBatchCSV reads a batch descriptor. The header names the columns;
// dataset_id and file_name are required, the rest are optional and may be
// absent entirely.
func ParseBatchCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBatch(f)
}

func parseBatch(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("batch descriptor has no header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"dataset_id", "file_name"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("batch descriptor is missing the %s column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("batch descriptor line %d: %w", line+1, err)
		}
		line++

		row := Row{
			DatasetID:       field(record, "dataset_id"),
			FileName:        field(record, "file_name"),
			Description:     field(record, "description"),
			ParentDatasetID: field(record, "parent_dataset_id"),
			SchemaFilename:  field(record, "schema_filename"),
		}
		if row.DatasetID == "" || row.FileName == "" {
			return nil, fmt.Errorf("batch descriptor line %d: dataset_id and file_name are required", line)
		}

		positions, err := parsePositions(field(record, "positions"))
		if err != nil {
			return nil, fmt.Errorf("batch descriptor line %d: %w", line, err)
		}
		row.Positions = positions

		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("batch descriptor holds no rows")
	}
	return rows, nil
}

// parsePositions interprets the positions column: empty or the literal
// "all" keeps every position; otherwise a JSON list of labels or indices.
// Numeric entries map to MicroManager's default "Pos<n>" labels.
func parsePositions(s string) ([]string, error) {
	if s == "" || strings.EqualFold(s, "all") {
		return nil, nil
	}

	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("positions must be a JSON list or \"all\": %w", err)
	}

	labels := make([]string, 0, len(raw))
	for _, v := range raw {
		switch v := v.(type) {
		case string:
			labels = append(labels, v)
		case float64:
			labels = append(labels, fmt.Sprintf("Pos%d", int(v)))
		default:
			return nil, fmt.Errorf("positions entries must be strings or integers, got %T", v)
		}
	}
	return labels, nil
}
