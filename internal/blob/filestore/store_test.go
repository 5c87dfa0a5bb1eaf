package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/fileops"
	"github.com/openmined/blobvault/internal/blob/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return newTestStoreAt(t, filepath.Join(t.TempDir(), "default"), fileops.Simple{}, opts...)
}

func newTestStoreAt(t *testing.T, root string, ops fileops.FileOperations, opts ...Option) *Store {
	t.Helper()
	s := New("default", root, location.VolumeChapter{}, ops, opts...)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func readAll(t *testing.T, s *Store, id blob.BlobID) []byte {
	t.Helper()
	rc, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func listFiles(t *testing.T, dir, suffix string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, suffix) {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCreateGetScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b, err := s.Create(ctx, strings.NewReader("0123456789"), map[string]string{"filename": "a.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.EqualValues(t, 10, b.Metadata.Size)
	assert.Equal(t, "87acec17cd9dcd20a716cc2cf67417b71c8a7016", b.Metadata.Hashes["sha1"])
	assert.Equal(t, "a.txt", b.Metadata.Headers["filename"])
	assert.Equal(t, "sha256:84d89877f0d4041efb6bf91a16f0248f2fd573e6af05c19f96bedb9f882f7882", b.Metadata.Digest().String())

	assert.Equal(t, []byte("0123456789"), readAll(t, s, b.ID))

	md, err := s.GetMetadata(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Metadata.Hashes, md.Hashes)
	assert.Equal(t, blob.StateLive, md.State())

	require.NoError(t, s.Delete(ctx, b.ID))
	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestRoundTripPayloads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithHashAlgorithms("sha1", "sha256", "md5", "blake3"))

	payloads := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte{0, 1, 2, 3, 255}, 1<<16),
		bytes.Repeat([]byte("artifact"), 1<<17),
	}

	for _, p := range payloads {
		b, err := s.Create(ctx, bytes.NewReader(p), nil)
		require.NoError(t, err)
		assert.EqualValues(t, len(p), b.Metadata.Size)
		assert.Len(t, b.Metadata.Hashes, 4)
		assert.NotNil(t, b.Metadata.Headers)
		assert.Equal(t, p, readAll(t, s, b.ID))
		require.NoError(t, s.Verify(ctx, b.ID))
	}
}

func TestCreateLayout(t *testing.T) {
	s := newTestStore(t)
	b, err := s.Create(context.Background(), strings.NewReader("payload"), nil)
	require.NoError(t, err)

	path := filepath.Join(s.Root(), "content", filepath.FromSlash(location.VolumeChapter{}.Location(b.ID)))
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(s.Root(), "metadata", "metadata.db"))
	assert.FileExists(t, filepath.Join(s.Root(), ".lock"))
	assert.Empty(t, listFiles(t, s.Root(), fileops.TempExt))
}

func TestCreateUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const workers = 16
	const perWorker = 25

	var mu sync.Mutex
	ids := map[blob.BlobID]bool{}
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for range perWorker {
				b, err := s.Create(ctx, strings.NewReader("identical"), nil)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, ids[b.ID], "duplicate id %s", b.ID)
				ids[b.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, workers*perWorker)

	for id := range ids {
		assert.Equal(t, []byte("identical"), readAll(t, s, id))
	}
}

func TestDeleteIsFinal(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	b, err := s.Create(ctx, strings.NewReader("gone"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, b.ID))

	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
	_, err = s.GetMetadata(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	// double delete is reported
	assert.ErrorIs(t, s.Delete(ctx, b.ID), blob.ErrBlobNotFound)
	assert.ErrorIs(t, s.Delete(ctx, blob.NewBlobID()), blob.ErrBlobNotFound)

	clock.Advance(DefaultRetentionPeriod + time.Minute)
	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.EqualValues(t, 4, res.BytesReclaimed)

	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
	assert.ErrorIs(t, s.Delete(ctx, b.ID), blob.ErrBlobNotFound)
	assert.Empty(t, listFiles(t, s.Root(), location.BlobExt))
}

func TestUndelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b, err := s.Create(ctx, strings.NewReader("back"), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Undelete(ctx, b.ID), blob.ErrBlobNotFound, "live blob")
	require.NoError(t, s.Delete(ctx, b.ID))
	require.NoError(t, s.Undelete(ctx, b.ID))
	assert.Equal(t, []byte("back"), readAll(t, s, b.ID))
}

func TestCompactRespectsRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now), WithRetentionPeriod(time.Hour))

	keep, err := s.Create(ctx, strings.NewReader("keep"), nil)
	require.NoError(t, err)
	drop, err := s.Create(ctx, strings.NewReader("drop"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, drop.ID))

	clock.Advance(30 * time.Minute)
	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Purged, "still inside the retention window")
	require.NoError(t, s.Undelete(ctx, drop.ID), "undelete possible before purge")
	require.NoError(t, s.Delete(ctx, drop.ID))

	clock.Advance(2 * time.Hour)
	res, err = s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.ErrorIs(t, s.Undelete(ctx, drop.ID), blob.ErrBlobNotFound, "purged blobs are gone")

	assert.Equal(t, []byte("keep"), readAll(t, s, keep.ID))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.LiveCount)
	assert.EqualValues(t, 4, st.LiveBytes)
	assert.Zero(t, st.DeletedCount)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestCreateReadFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("connection reset")
	_, err := s.Create(ctx, &failingReader{data: bytes.Repeat([]byte("x"), 10000), err: boom}, nil)
	assert.ErrorIs(t, err, blob.ErrIO)
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, listFiles(t, s.Root(), fileops.TempExt))
	assert.Empty(t, listFiles(t, s.Root(), location.BlobExt))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.LiveCount)
}

func TestCreateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestStore(t)

	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("partial"))
		cancel()
		pw.Write([]byte("more"))
		pw.Close()
	}()

	_, err := s.Create(ctx, pr, nil)
	pr.Close()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listFiles(t, s.Root(), fileops.TempExt))
	assert.Empty(t, listFiles(t, s.Root(), location.BlobExt))
}

// moveFailOps fails every Move, simulating a crash before the rename
type moveFailOps struct {
	fileops.Simple
}

func (moveFailOps) Move(src, dst string) error {
	return errors.New("injected rename failure")
}

func TestCreateRenameFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreAt(t, filepath.Join(t.TempDir(), "default"), moveFailOps{})

	_, err := s.Create(ctx, strings.NewReader("never visible"), nil)
	assert.ErrorIs(t, err, blob.ErrIO)
	assert.Empty(t, listFiles(t, s.Root(), fileops.TempExt))
	assert.Empty(t, listFiles(t, s.Root(), location.BlobExt))
}

func TestCompactRemovesOrphanedTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// a temp file as left behind by a process that died mid-write
	id := blob.NewBlobID()
	final := s.contentPath(id)
	f, err := fileops.Simple{}.CreateTemp(final)
	require.NoError(t, err)
	_, err = f.WriteString("half a payl")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TempFilesRemoved)
	assert.EqualValues(t, 11, res.BytesReclaimed)
	assert.NoFileExists(t, f.Name())
}

func TestCompactKeepsInFlightTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pr, pw := io.Pipe()
	done := make(chan *blob.Blob)
	go func() {
		b, err := s.Create(ctx, pr, nil)
		assert.NoError(t, err)
		done <- b
	}()

	_, err := pw.Write([]byte("first half "))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(listFiles(t, s.contentDir, fileops.TempExt)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.TempFilesRemoved)

	_, err = pw.Write([]byte("second half"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	b := <-done
	require.NotNil(t, b)
	assert.Equal(t, []byte("first half second half"), readAll(t, s, b.ID))
}

func TestCompactRemovesOrphanedPayloads(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	// payload renamed into place but the process died before the record
	orphan := blob.NewBlobID()
	path := s.contentPath(orphan)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("orphan"), 0o644))

	live, err := s.Create(ctx, strings.NewReader("live"), nil)
	require.NoError(t, err)

	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.OrphansRemoved, "too young, may belong to a create in progress")
	assert.FileExists(t, path)

	clock.Advance(DefaultTempGracePeriod + time.Minute)
	res, err = s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphansRemoved)
	assert.NoFileExists(t, path)

	assert.Equal(t, []byte("live"), readAll(t, s, live.ID))
}

func TestGetDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b, err := s.Create(ctx, strings.NewReader("0123456789"), nil)
	require.NoError(t, err)
	path := s.contentPath(b.ID)

	// same size, different bytes: only a full verification notices
	require.NoError(t, os.WriteFile(path, []byte("9876543210"), 0o644))
	assert.Equal(t, []byte("9876543210"), readAll(t, s, b.ID))
	assert.ErrorIs(t, s.Verify(ctx, b.ID), blob.ErrCorruption)

	// truncated: caught on every read
	require.NoError(t, os.WriteFile(path, []byte("01234"), 0o644))
	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrCorruption)
	assert.ErrorIs(t, s.Verify(ctx, b.ID), blob.ErrCorruption)

	// missing
	require.NoError(t, os.Remove(path))
	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, blob.ErrCorruption)
}

func TestRestartDurability(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "default")

	s := New("default", root, location.Prefix{}, fileops.Simple{})
	require.NoError(t, s.Start())

	want := map[blob.BlobID]*blob.Blob{}
	for i := range 20 {
		b, err := s.Create(ctx, strings.NewReader(strings.Repeat("z", i)), map[string]string{"n": string(rune('a' + i))})
		require.NoError(t, err)
		want[b.ID] = b
	}
	require.NoError(t, s.Stop())

	s = New("default", root, location.Prefix{}, fileops.Simple{})
	require.NoError(t, s.Start())
	defer s.Stop()

	for id, b := range want {
		md, err := s.GetMetadata(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, b.Metadata.Size, md.Size)
		assert.Equal(t, b.Metadata.Hashes, md.Hashes)
		assert.Equal(t, b.Metadata.Headers, md.Headers)
		assert.True(t, b.Metadata.CreatedAt.Equal(md.CreatedAt))
		assert.Equal(t, strings.Repeat("z", int(b.Metadata.Size)), string(readAll(t, s, id)))
	}
}

func TestExclusiveRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "default")
	first := newTestStoreAt(t, root, fileops.Simple{})

	second := New("default", root, location.VolumeChapter{}, fileops.Simple{})
	assert.ErrorIs(t, second.Start(), blob.ErrStorageUnavailable)

	require.NoError(t, first.Stop())
	require.NoError(t, second.Start())
	require.NoError(t, second.Stop())
}

func TestStartUnavailableRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	s := New("default", file, location.VolumeChapter{}, fileops.Simple{})
	assert.ErrorIs(t, s.Start(), blob.ErrStorageUnavailable)
	assert.False(t, s.IsStarted())
}

func TestOperationsRequireStart(t *testing.T) {
	ctx := context.Background()
	s := New("default", filepath.Join(t.TempDir(), "default"), location.VolumeChapter{}, fileops.Simple{})

	_, err := s.Create(ctx, strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, blob.ErrStorageUnavailable)
	_, err = s.Get(ctx, blob.NewBlobID())
	assert.ErrorIs(t, err, blob.ErrStorageUnavailable)
	_, err = s.Compact(ctx)
	assert.ErrorIs(t, err, blob.ErrStorageUnavailable)

	// stop is a no-op when not started
	assert.NoError(t, s.Stop())
}

func TestStopWaitsForInFlightCreate(t *testing.T) {
	ctx := context.Background()
	s := New("default", filepath.Join(t.TempDir(), "default"), location.VolumeChapter{}, fileops.Simple{})
	require.NoError(t, s.Start())

	pr, pw := io.Pipe()
	created := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, pr, nil)
		created <- err
	}()
	_, err := pw.Write([]byte("in flight"))
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a create was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, pw.Close())
	assert.NoError(t, <-created)
	assert.NoError(t, <-stopped)
}

func TestUnsupportedHashAlgorithm(t *testing.T) {
	s := newTestStore(t, WithHashAlgorithms("crc7"))
	_, err := s.Create(context.Background(), strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, blob.ErrInvalidConfiguration)
}
