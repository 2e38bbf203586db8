package catalog

import (
	"encoding/json"
	"time"
)

// DataSet is one acquisition identified by its serial. Frames reports whether
// the dataset was ingested as a plane stream (true) or as an opaque file
// (false). ParentID models lineage and is never traversed during ingestion.
type DataSet struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DatasetSerial string    `gorm:"uniqueIndex;not null;size:64" json:"dataset_serial"`
	DateTime      time.Time `gorm:"not null" json:"date_time"`
	Microscope    string    `gorm:"size:255" json:"microscope"`
	Description   string    `gorm:"type:text" json:"description"`
	Frames        bool      `gorm:"not null" json:"frames"`
	ParentID      *uint     `json:"parent_id,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DataSet) TableName() string {
	return "data_set"
}

// FramesGlobal holds the per-dataset aggregate metadata of a plane stream.
// One-to-one with a frames DataSet.
type FramesGlobal struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	DataSetID     uint   `gorm:"uniqueIndex;not null" json:"-"`
	StorageDir    string `gorm:"not null;size:255" json:"storage_dir"`
	NbrFrames     int    `gorm:"not null" json:"nbr_frames"`
	ImWidth       int    `gorm:"not null" json:"im_width"`
	ImHeight      int    `gorm:"not null" json:"im_height"`
	ImColors      int    `gorm:"not null" json:"im_colors"`
	BitDepth      string `gorm:"not null;size:16" json:"bit_depth"`
	NbrSlices     int    `gorm:"not null" json:"nbr_slices"`
	NbrChannels   int    `gorm:"not null" json:"nbr_channels"`
	NbrTimepoints int    `gorm:"not null" json:"nbr_timepoints"`
	NbrPositions  int    `gorm:"not null" json:"nbr_positions"`

	// MetadataJSON is the variable global metadata, serialized so the column
	// is portable across sqlite and postgres.
	MetadataJSON string `gorm:"type:text" json:"-"`
}

func (FramesGlobal) TableName() string {
	return "frames_global"
}

// Frame is one catalog row per stored plane. The coordinate tuple is unique
// within its FramesGlobal.
type Frame struct {
	ID             uint   `gorm:"primaryKey" json:"-"`
	FramesGlobalID uint   `gorm:"not null;uniqueIndex:idx_frame_coords,priority:1" json:"-"`
	ChannelIdx     int    `gorm:"not null;uniqueIndex:idx_frame_coords,priority:2" json:"channel_idx"`
	SliceIdx       int    `gorm:"not null;uniqueIndex:idx_frame_coords,priority:3" json:"slice_idx"`
	TimeIdx        int    `gorm:"not null;uniqueIndex:idx_frame_coords,priority:4" json:"time_idx"`
	PosIdx         int    `gorm:"not null;uniqueIndex:idx_frame_coords,priority:5" json:"pos_idx"`
	ChannelName    string `gorm:"size:255" json:"channel_name"`
	FileName       string `gorm:"not null;size:255" json:"file_name"`
	SHA256         string `gorm:"column:sha256;not null;size:64" json:"sha256"`
	MetadataJSON   string `gorm:"type:text" json:"-"`
}

func (Frame) TableName() string {
	return "frames"
}

// FileGlobal holds the metadata of an opaque-file dataset. One-to-one with a
// non-frames DataSet.
type FileGlobal struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	DataSetID    uint   `gorm:"uniqueIndex;not null" json:"-"`
	StorageDir   string `gorm:"not null;size:255" json:"storage_dir"`
	FileName     string `gorm:"not null;size:255" json:"file_name"`
	SHA256       string `gorm:"column:sha256;not null;size:64" json:"sha256"`
	MetadataJSON string `gorm:"type:text" json:"-"`
}

func (FileGlobal) TableName() string {
	return "file_global"
}

// AllModels returns every model for auto-migration.
func AllModels() []any {
	return []any{
		&DataSet{},
		&FramesGlobal{},
		&Frame{},
		&FileGlobal{},
	}
}

// Metadata returns the deserialized variable metadata map.
func (g *FramesGlobal) Metadata() (map[string]any, error) {
	return decodeMetadata(g.MetadataJSON)
}

// SetMetadata serializes the variable metadata map.
func (g *FramesGlobal) SetMetadata(meta map[string]any) error {
	s, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	g.MetadataJSON = s
	return nil
}

// Metadata returns the deserialized per-plane variable metadata map.
func (f *Frame) Metadata() (map[string]any, error) {
	return decodeMetadata(f.MetadataJSON)
}

// Metadata returns the deserialized variable metadata map.
func (g *FileGlobal) Metadata() (map[string]any, error) {
	return decodeMetadata(g.MetadataJSON)
}

// SetMetadata serializes the variable metadata map.
func (g *FileGlobal) SetMetadata(meta map[string]any) error {
	s, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	g.MetadataJSON = s
	return nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
