package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{MountPoint: t.TempDir()})
	require.NoError(t, err)
	return store
}

func encodedPlane(t *testing.T) (*imageio.Plane, []byte) {
	t.Helper()
	plane, err := imageio.NewPlane(4, 3, 1, imageio.BitDepthUint16)
	require.NoError(t, err)
	for i := range plane.Pix {
		plane.Pix[i] = byte(i * 7)
	}
	data, err := plane.EncodePNG()
	require.NoError(t, err)
	return plane, data
}

func TestNewRequiresMountPoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewCreateDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "mount")

	_, err := New(Config{MountPoint: root})
	assert.Error(t, err)

	store, err := New(Config{MountPoint: root, CreateDir: true})
	require.NoError(t, err)
	assert.Equal(t, root, store.MountPoint())
}

func TestPlaneRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plane, data := encodedPlane(t)
	key := "raw_frames/SMS-2021-06-09-10-00-00-0001/im_c000_z000_t000_p000.png"

	require.NoError(t, store.PutPlane(ctx, key, data))

	got, err := store.GetPlane(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, plane.SHA256(), got.SHA256())
}

func TestGetPlaneNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPlane(context.Background(), "raw_frames/none/im.png")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestFileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "acq.lif")
	require.NoError(t, os.WriteFile(src, []byte("vendor container"), 0644))

	key := "raw_files/TEST-2021-06-09-10-00-00-0001/acq.lif"
	require.NoError(t, store.PutFile(ctx, key, src))

	dst := filepath.Join(t.TempDir(), "out", "acq.lif")
	require.NoError(t, store.GetFile(ctx, key, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("vendor container"), data)
}

func TestGetFileNotFound(t *testing.T) {
	store := newTestStore(t)

	dst := filepath.Join(t.TempDir(), "missing")
	err := store.GetFile(context.Background(), "raw_files/none/x", dst)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestAssertUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := "raw_frames/ISP-2021-06-09-10-00-00-0001"
	require.NoError(t, store.AssertUnique(ctx, dir))

	_, data := encodedPlane(t)
	require.NoError(t, store.PutPlane(ctx, dir+"/im_c000_z000_t000_p000.png", data))

	err := store.AssertUnique(ctx, dir)
	assert.ErrorIs(t, err, storage.ErrStorageExists)
}

func TestListPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := "raw_frames/SMS-2021-06-09-10-00-00-0002"
	_, data := encodedPlane(t)

	// Out of order on purpose; listing must sort.
	require.NoError(t, store.PutPlane(ctx, dir+"/im_c001_z000_t000_p000.png", data))
	require.NoError(t, store.PutPlane(ctx, dir+"/im_c000_z000_t000_p000.png", data))

	keys, err := store.ListPrefix(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		dir + "/im_c000_z000_t000_p000.png",
		dir + "/im_c001_z000_t000_p000.png",
	}, keys)
}

func TestListPrefixMissingDir(t *testing.T) {
	store := newTestStore(t)

	keys, err := store.ListPrefix(context.Background(), "raw_frames/none")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListPrefixSkipsTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := "raw_frames/SMS-2021-06-09-10-00-00-0003"
	_, data := encodedPlane(t)
	require.NoError(t, store.PutPlane(ctx, dir+"/im_c000_z000_t000_p000.png", data))

	tmp := filepath.Join(store.MountPoint(), filepath.FromSlash(dir), "im_c001_z000_t000_p000.png.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0644))

	keys, err := store.ListPrefix(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestPutPlaneOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := "raw_frames/SMS-2021-06-09-10-00-00-0004/im_c000_z000_t000_p000.png"
	_, data := encodedPlane(t)
	require.NoError(t, store.PutPlane(ctx, key, data))

	plane2, err := imageio.NewPlane(2, 2, 1, imageio.BitDepthUint8)
	require.NoError(t, err)
	data2, err := plane2.EncodePNG()
	require.NoError(t, err)
	require.NoError(t, store.PutPlane(ctx, key, data2))

	got, err := store.GetPlane(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, plane2.SHA256(), got.SHA256())
}
