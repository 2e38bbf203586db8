package catalog

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/czbiohub/imagingdb/internal/logger"
)

// GlobalMeta is the required per-dataset aggregate for a plane stream. Every
// field must be set before insert.
type GlobalMeta struct {
	StorageDir    string
	NbrFrames     int
	ImWidth       int
	ImHeight      int
	ImColors      int
	BitDepth      string
	NbrSlices     int
	NbrChannels   int
	NbrTimepoints int
	NbrPositions  int
}

// FrameRecord is one plane's catalog metadata as produced by a splitter.
type FrameRecord struct {
	ChannelIdx  int
	SliceIdx    int
	TimeIdx     int
	PosIdx      int
	ChannelName string
	FileName    string
	SHA256      string
	Metadata    map[string]any
}

// InsertFramesParams carries everything needed to catalog a frames dataset.
type InsertFramesParams struct {
	Serial       string
	DateTime     time.Time
	Microscope   string
	Description  string
	ParentSerial string

	Global         GlobalMeta
	GlobalMetadata map[string]any
	Frames         []FrameRecord

	// Overwrite replaces an existing dataset's rows instead of failing.
	Overwrite bool
}

// InsertFileParams carries everything needed to catalog a file dataset.
type InsertFileParams struct {
	Serial       string
	DateTime     time.Time
	Microscope   string
	Description  string
	ParentSerial string

	StorageDir string
	FileName   string
	SHA256     string
	Metadata   map[string]any

	Overwrite bool
}

// AssertUniqueSerial fails with ErrDuplicateSerial when any DataSet with the
// serial exists.
func (s *Session) AssertUniqueSerial(serial string) error {
	var count int64
	if err := s.tx.Model(&DataSet{}).
		Where("dataset_serial = ?", serial).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSerial, serial)
	}
	return nil
}

// validateGlobal checks the aggregate against the frame rows. The nbr_*
// dimensions are counts of distinct index values, not index upper bounds:
// sparse acquisitions record e.g. pos_idx=50 with nbr_positions=1.
func validateGlobal(global GlobalMeta, frames []FrameRecord) error {
	if global.StorageDir == "" || global.BitDepth == "" {
		return fmt.Errorf("%w: storage_dir and bit_depth are required", ErrSchemaViolation)
	}
	if global.ImColors != 1 && global.ImColors != 3 {
		return fmt.Errorf("%w: im_colors must be 1 or 3, got %d", ErrSchemaViolation, global.ImColors)
	}
	if global.ImWidth <= 0 || global.ImHeight <= 0 {
		return fmt.Errorf("%w: non-positive frame shape %dx%d",
			ErrSchemaViolation, global.ImWidth, global.ImHeight)
	}
	if global.NbrFrames != len(frames) {
		return fmt.Errorf("%w: nbr_frames=%d but %d frame rows",
			ErrSchemaViolation, global.NbrFrames, len(frames))
	}

	type coord struct{ c, z, t, p int }
	seen := make(map[coord]bool, len(frames))
	channels := map[int]bool{}
	slices := map[int]bool{}
	times := map[int]bool{}
	positions := map[int]bool{}
	for _, f := range frames {
		if f.ChannelIdx < 0 || f.SliceIdx < 0 || f.TimeIdx < 0 || f.PosIdx < 0 {
			return fmt.Errorf("%w: negative frame coordinates (c=%d,z=%d,t=%d,p=%d)",
				ErrSchemaViolation, f.ChannelIdx, f.SliceIdx, f.TimeIdx, f.PosIdx)
		}
		key := coord{f.ChannelIdx, f.SliceIdx, f.TimeIdx, f.PosIdx}
		if seen[key] {
			return fmt.Errorf("%w: duplicate frame coordinates (c=%d,z=%d,t=%d,p=%d)",
				ErrSchemaViolation, f.ChannelIdx, f.SliceIdx, f.TimeIdx, f.PosIdx)
		}
		seen[key] = true
		if f.FileName == "" || f.SHA256 == "" {
			return fmt.Errorf("%w: frame (c=%d,z=%d,t=%d,p=%d) missing file_name or sha256",
				ErrSchemaViolation, f.ChannelIdx, f.SliceIdx, f.TimeIdx, f.PosIdx)
		}
		channels[f.ChannelIdx] = true
		slices[f.SliceIdx] = true
		times[f.TimeIdx] = true
		positions[f.PosIdx] = true
	}

	if len(channels) != global.NbrChannels || len(slices) != global.NbrSlices ||
		len(times) != global.NbrTimepoints || len(positions) != global.NbrPositions {
		return fmt.Errorf("%w: declared dimensions (%d,%d,%d,%d) but observed (%d,%d,%d,%d)",
			ErrSchemaViolation,
			global.NbrChannels, global.NbrSlices, global.NbrTimepoints, global.NbrPositions,
			len(channels), len(slices), len(times), len(positions))
	}
	return nil
}

// upsertDataSet creates the DataSet row, or reuses the existing one when
// overwrite is allowed. A reused row keeps its serial and surrogate id; its
// descriptive fields are refreshed and its dependent rows removed.
func (s *Session) upsertDataSet(serial string, dateTime time.Time, microscope, description, parentSerial string, frames, overwrite bool) (*DataSet, error) {
	var parentID *uint
	if parentSerial != "" {
		var parent DataSet
		err := s.tx.Where("dataset_serial = ?", parentSerial).First(&parent).Error
		if err != nil {
			return nil, convertNotFoundError(err,
				fmt.Errorf("%w: parent %s", ErrDatasetNotFound, parentSerial))
		}
		parentID = &parent.ID
	}

	var existing DataSet
	err := s.tx.Where("dataset_serial = ?", serial).First(&existing).Error
	switch {
	case err == nil:
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, serial)
		}
		if err := s.deleteDependents(existing.ID); err != nil {
			return nil, err
		}
		existing.DateTime = dateTime
		existing.Microscope = microscope
		existing.Description = description
		existing.Frames = frames
		existing.ParentID = parentID
		if err := s.tx.Save(&existing).Error; err != nil {
			return nil, err
		}
		logger.Debug("replaced dataset rows", "serial", serial)
		return &existing, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		ds := DataSet{
			DatasetSerial: serial,
			DateTime:      dateTime,
			Microscope:    microscope,
			Description:   description,
			Frames:        frames,
			ParentID:      parentID,
		}
		if err := s.tx.Create(&ds).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, serial)
			}
			return nil, err
		}
		return &ds, nil

	default:
		return nil, err
	}
}

// deleteDependents removes a dataset's FramesGlobal, Frames and FileGlobal
// rows ahead of an overwrite re-insert.
func (s *Session) deleteDependents(dataSetID uint) error {
	var global FramesGlobal
	err := s.tx.Where("data_set_id = ?", dataSetID).First(&global).Error
	if err == nil {
		if err := s.tx.Where("frames_global_id = ?", global.ID).Delete(&Frame{}).Error; err != nil {
			return err
		}
		if err := s.tx.Delete(&global).Error; err != nil {
			return err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.tx.Where("data_set_id = ?", dataSetID).Delete(&FileGlobal{}).Error
}

// InsertFrames catalogs a frames dataset: the DataSet row (created or
// replaced under overwrite), its FramesGlobal, and one Frame row per plane.
// Validation failures surface before any row is written.
func (s *Session) InsertFrames(p InsertFramesParams) error {
	if err := validateGlobal(p.Global, p.Frames); err != nil {
		return err
	}

	ds, err := s.upsertDataSet(p.Serial, p.DateTime, p.Microscope, p.Description,
		p.ParentSerial, true, p.Overwrite)
	if err != nil {
		return err
	}

	global := FramesGlobal{
		DataSetID:     ds.ID,
		StorageDir:    p.Global.StorageDir,
		NbrFrames:     p.Global.NbrFrames,
		ImWidth:       p.Global.ImWidth,
		ImHeight:      p.Global.ImHeight,
		ImColors:      p.Global.ImColors,
		BitDepth:      p.Global.BitDepth,
		NbrSlices:     p.Global.NbrSlices,
		NbrChannels:   p.Global.NbrChannels,
		NbrTimepoints: p.Global.NbrTimepoints,
		NbrPositions:  p.Global.NbrPositions,
	}
	if err := global.SetMetadata(p.GlobalMetadata); err != nil {
		return fmt.Errorf("failed to serialize global metadata: %w", err)
	}
	if err := s.tx.Create(&global).Error; err != nil {
		return err
	}

	rows := make([]Frame, 0, len(p.Frames))
	for _, f := range p.Frames {
		metaJSON, err := encodeMetadata(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize frame metadata: %w", err)
		}
		rows = append(rows, Frame{
			FramesGlobalID: global.ID,
			ChannelIdx:     f.ChannelIdx,
			SliceIdx:       f.SliceIdx,
			TimeIdx:        f.TimeIdx,
			PosIdx:         f.PosIdx,
			ChannelName:    f.ChannelName,
			FileName:       f.FileName,
			SHA256:         f.SHA256,
			MetadataJSON:   metaJSON,
		})
	}
	if err := s.tx.CreateInBatches(rows, 500).Error; err != nil {
		return err
	}

	logger.Info("cataloged frames dataset",
		"serial", p.Serial, "frames", len(rows), "storage_dir", p.Global.StorageDir)
	return nil
}

// InsertFile catalogs an opaque-file dataset: DataSet plus FileGlobal.
func (s *Session) InsertFile(p InsertFileParams) error {
	if p.StorageDir == "" || p.FileName == "" || p.SHA256 == "" {
		return fmt.Errorf("%w: storage_dir, file_name and sha256 are required", ErrSchemaViolation)
	}

	ds, err := s.upsertDataSet(p.Serial, p.DateTime, p.Microscope, p.Description,
		p.ParentSerial, false, p.Overwrite)
	if err != nil {
		return err
	}

	global := FileGlobal{
		DataSetID:  ds.ID,
		StorageDir: p.StorageDir,
		FileName:   p.FileName,
		SHA256:     p.SHA256,
	}
	if err := global.SetMetadata(p.Metadata); err != nil {
		return fmt.Errorf("failed to serialize file metadata: %w", err)
	}
	if err := s.tx.Create(&global).Error; err != nil {
		return err
	}

	logger.Info("cataloged file dataset",
		"serial", p.Serial, "file", p.FileName, "storage_dir", p.StorageDir)
	return nil
}

// GetDataSet returns the DataSet row for a serial.
func (s *Session) GetDataSet(serial string) (*DataSet, error) {
	var ds DataSet
	err := s.tx.Where("dataset_serial = ?", serial).First(&ds).Error
	if err != nil {
		return nil, convertNotFoundError(err, fmt.Errorf("%w: %s", ErrDatasetNotFound, serial))
	}
	return &ds, nil
}

// GetFramesGlobal returns the aggregate row for a frames dataset. A frames
// dataset without one, or one whose stored count disagrees with the actual
// Frame rows, is inconsistent.
func (s *Session) GetFramesGlobal(serial string) (*FramesGlobal, error) {
	ds, err := s.GetDataSet(serial)
	if err != nil {
		return nil, err
	}
	if !ds.Frames {
		return nil, fmt.Errorf("%w: %s is a file dataset", ErrInconsistentCatalog, serial)
	}

	var global FramesGlobal
	err = s.tx.Where("data_set_id = ?", ds.ID).First(&global).Error
	if err != nil {
		return nil, convertNotFoundError(err,
			fmt.Errorf("%w: frames dataset %s has no frames_global row", ErrInconsistentCatalog, serial))
	}

	var count int64
	if err := s.tx.Model(&Frame{}).
		Where("frames_global_id = ?", global.ID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if int(count) != global.NbrFrames {
		return nil, fmt.Errorf("%w: %s declares %d frames but holds %d",
			ErrInconsistentCatalog, serial, global.NbrFrames, count)
	}

	return &global, nil
}

// Filters restricts a frames query along any subset of dimensions. Empty
// slices mean no restriction; all present filters are ANDed.
type Filters struct {
	Channels  []int
	Slices    []int
	Times     []int
	Positions []int
}

// Empty reports whether no dimension is restricted.
func (f Filters) Empty() bool {
	return len(f.Channels) == 0 && len(f.Slices) == 0 &&
		len(f.Times) == 0 && len(f.Positions) == 0
}

// GetFrames returns the dataset's Frame rows matching the filters, ordered by
// (pos, time, channel, slice) for deterministic output.
func (s *Session) GetFrames(serial string, filters Filters) ([]Frame, error) {
	global, err := s.GetFramesGlobal(serial)
	if err != nil {
		return nil, err
	}

	q := s.tx.Where("frames_global_id = ?", global.ID)
	if len(filters.Channels) > 0 {
		q = q.Where("channel_idx IN ?", filters.Channels)
	}
	if len(filters.Slices) > 0 {
		q = q.Where("slice_idx IN ?", filters.Slices)
	}
	if len(filters.Times) > 0 {
		q = q.Where("time_idx IN ?", filters.Times)
	}
	if len(filters.Positions) > 0 {
		q = q.Where("pos_idx IN ?", filters.Positions)
	}

	var frames []Frame
	if err := q.Order("pos_idx, time_idx, channel_idx, slice_idx").Find(&frames).Error; err != nil {
		return nil, err
	}
	return frames, nil
}

// ChannelNames returns the dataset's distinct channel names keyed by
// channel_idx.
func (s *Session) ChannelNames(serial string) (map[int]string, error) {
	global, err := s.GetFramesGlobal(serial)
	if err != nil {
		return nil, err
	}

	type pair struct {
		ChannelIdx  int
		ChannelName string
	}
	var pairs []pair
	err = s.tx.Model(&Frame{}).
		Distinct("channel_idx", "channel_name").
		Where("frames_global_id = ?", global.ID).
		Find(&pairs).Error
	if err != nil {
		return nil, err
	}

	names := make(map[int]string, len(pairs))
	for _, p := range pairs {
		names[p.ChannelIdx] = p.ChannelName
	}
	return names, nil
}

// GetFileGlobal returns the aggregate row for a file dataset.
func (s *Session) GetFileGlobal(serial string) (*FileGlobal, error) {
	ds, err := s.GetDataSet(serial)
	if err != nil {
		return nil, err
	}
	if ds.Frames {
		return nil, fmt.Errorf("%w: %s is a frames dataset", ErrInconsistentCatalog, serial)
	}

	var global FileGlobal
	err = s.tx.Where("data_set_id = ?", ds.ID).First(&global).Error
	if err != nil {
		return nil, convertNotFoundError(err,
			fmt.Errorf("%w: file dataset %s has no file_global row", ErrInconsistentCatalog, serial))
	}
	return &global, nil
}

// ListDataSets returns all DataSet rows ordered by serial.
func (s *Session) ListDataSets() ([]DataSet, error) {
	var datasets []DataSet
	if err := s.tx.Order("dataset_serial").Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}
