package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/examportal/internal/session"
)

// wavHeader is a minimal RIFF/WAVE header followed by silence.
var wavHeader = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x40\x1f\x00\x00\x80\x3e\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00"), make([]byte, 16)...)

func TestFileDeviceMissingDirIsUnavailable(t *testing.T) {
	_, err := NewFileDevice(filepath.Join(t.TempDir(), "missing")).Open(context.Background())
	assert.ErrorIs(t, err, session.ErrDeviceUnavailable)
}

func TestFileDeviceEmptyDirIsUnavailable(t *testing.T) {
	_, err := NewFileDevice(t.TempDir()).Open(context.Background())
	assert.ErrorIs(t, err, session.ErrDeviceUnavailable)
}

func TestFileDeviceCyclesThroughFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), wavHeader, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.wav"), append(wavHeader, 1), 0o644))

	stream, err := NewFileDevice(dir).Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	sizes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, stream.Begin())
		c, err := stream.End()
		require.NoError(t, err)
		assert.Equal(t, "audio/wav", c.MimeType)
		sizes = append(sizes, len(c.Data))
	}
	assert.Equal(t, []int{len(wavHeader), len(wavHeader) + 1, len(wavHeader)}, sizes)
}

func TestFileStreamRejectsNonAudio(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello world"), 0o644))

	stream, err := NewFileDevice(dir).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Begin())
	_, err = stream.End()
	assert.Error(t, err)
}

func TestFileStreamStateChecks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), wavHeader, 0o644))
	stream, err := NewFileDevice(dir).Open(context.Background())
	require.NoError(t, err)

	_, err = stream.End()
	assert.Error(t, err)
	require.NoError(t, stream.Begin())
	assert.Error(t, stream.Begin())

	require.NoError(t, stream.Close())
	assert.Error(t, stream.Begin())
}

func TestFileDeviceWorksWithRecorder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), wavHeader, 0o644))

	store := session.NewStore([]session.SlotSpec{{QuestionID: "q1", Type: "viva"}})
	rec := session.NewRecorder(NewFileDevice(dir), store, session.RecorderConfig{ReRecordLimit: 1})
	require.NoError(t, rec.Open(context.Background()))
	require.NoError(t, rec.Record("q1"))
	take, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", take.MimeType)
	assert.True(t, store.IsAnswered("q1"))
}
