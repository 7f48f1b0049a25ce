package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

func decodeRecord(t *testing.T, line []byte, payload any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if payload != nil {
		require.NoError(t, json.Unmarshal(record.Data, payload))
	}
	return record
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	assert.NotNil(t, w)
	assert.Equal(t, "job-123", w.jobID)
	assert.Equal(t, "amazonphotos", w.provider)
}

func TestJSONLWriter_WritePhoto(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	width := 640
	rec := &PhotoRecord{
		Photo: provider.Photo{
			ID:          "n1",
			Name:        "beach.jpg",
			Kind:        provider.KindFile,
			ContentType: "image/jpeg",
			Width:       &width,
			Size:        2048,
			CreatedDate: "2024-01-15T12:00:00.000Z",
		},
		Offset: 7,
	}
	require.NoError(t, w.WritePhoto(context.Background(), rec))

	var raw map[string]any
	record := decodeRecord(t, buf.Bytes(), &raw)
	assert.Equal(t, TypePhoto, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "amazonphotos", record.Provider)
	assert.False(t, record.TS.IsZero())

	// Photo fields are flattened into the payload.
	assert.Equal(t, "n1", raw["id"])
	assert.Equal(t, "beach.jpg", raw["name"])
	assert.Equal(t, float64(640), raw["width"])
	assert.Nil(t, raw["height"])
	assert.Equal(t, float64(7), raw["offset"])
	assert.NotContains(t, raw, "tempLink")
}

func TestJSONLWriter_WriteUpload(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "amazonphotos")

	require.NoError(t, w.WriteUpload(context.Background(), &UploadRecord{
		Source:       "/tmp/a.jpg",
		UploadResult: provider.UploadResult{Success: true, Name: "a.jpg", Duplicate: true, Message: "photo already exists"},
	}))

	var raw map[string]any
	record := decodeRecord(t, buf.Bytes(), &raw)
	assert.Equal(t, TypeUpload, record.Type)
	assert.Equal(t, "/tmp/a.jpg", raw["source"])
	assert.Equal(t, true, raw["duplicate"])
	assert.NotContains(t, raw, "nodeId")
}

func TestJSONLWriter_WriteTransferAndSkip(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "amazonphotos")
	ctx := context.Background()

	require.NoError(t, w.WriteTransfer(ctx, &TransferRecord{
		NodeID: "n1", Name: "a.jpg", Destination: "s3://b/a.jpg", Bytes: 10, ContentType: "image/jpeg", DurationMS: 3,
	}))
	require.NoError(t, w.WriteSkip(ctx, &SkipRecord{NodeID: "n2", Name: "b.jpg", Reason: SkipExists, Destination: "s3://b/b.jpg"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var tr TransferRecord
	assert.Equal(t, TypeTransfer, decodeRecord(t, []byte(lines[0]), &tr).Type)
	assert.Equal(t, "s3://b/a.jpg", tr.Destination)

	var sk SkipRecord
	assert.Equal(t, TypeSkip, decodeRecord(t, []byte(lines[1]), &sk).Type)
	assert.Equal(t, SkipExists, sk.Reason)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "amazonphotos")

	require.NoError(t, w.WriteError(context.Background(), &ErrorRecord{
		Code:    ErrCodeUpstream,
		Message: "search failed (500)",
		NodeID:  "n1",
		Details: map[string]any{"status": 500},
	}))

	var er ErrorRecord
	record := decodeRecord(t, buf.Bytes(), &er)
	assert.Equal(t, TypeError, record.Type)
	assert.Equal(t, ErrCodeUpstream, er.Code)
	assert.Equal(t, "n1", er.NodeID)
}

func TestJSONLWriter_WriteProgressAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "amazonphotos")
	ctx := context.Background()

	require.NoError(t, w.WriteProgress(ctx, &ProgressRecord{Phase: PhaseTransferring, Pages: 2, Seen: 100, Transferred: 40}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{
		Pages: 3, Seen: 120, Transferred: 100, Skipped: 15, Errors: 5, Bytes: 1 << 20,
		Duration: 1500 * time.Millisecond, DurationHuman: "1.5s",
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var pr ProgressRecord
	assert.Equal(t, TypeProgress, decodeRecord(t, []byte(lines[0]), &pr).Type)
	assert.Equal(t, int64(40), pr.Transferred)

	var raw map[string]any
	assert.Equal(t, TypeSummary, decodeRecord(t, []byte(lines[1]), &raw).Type)
	assert.Equal(t, float64(1500*time.Millisecond), raw["duration_ns"])
	assert.Equal(t, "1.5s", raw["duration"])
	assert.NotContains(t, raw, "dry_run")
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	err := w.WritePhoto(context.Background(), &PhotoRecord{Photo: provider.Photo{ID: "n1"}})
	require.NoError(t, err)

	err = w.WritePhoto(context.Background(), &PhotoRecord{Photo: provider.Photo{ID: "n2"}})
	require.NoError(t, err)

	// Output should be two lines
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	// Each line should be valid JSON
	for _, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err)
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	err := w.Close()
	require.NoError(t, err)

	// Writing after close should fail
	err = w.WritePhoto(context.Background(), &PhotoRecord{Photo: provider.Photo{ID: "n"}})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				rec := &PhotoRecord{
					Photo:  provider.Photo{ID: "node", Size: int64(j)},
					Offset: writerID*writesPerWriter + j,
				}
				_ = w.WritePhoto(context.Background(), rec)
			}
		}(i)
	}

	wg.Wait()

	// Verify all lines are complete JSON objects (no interleaving)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "amazonphotos")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WritePhoto(ctx, &PhotoRecord{Photo: provider.Photo{ID: "n"}})
	assert.ErrorIs(t, err, context.Canceled)

	// Buffer should be empty (nothing written)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	// Create a writer that always fails
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "job-123", "amazonphotos")

	err := w.WritePhoto(context.Background(), &PhotoRecord{Photo: provider.Photo{ID: "n"}})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	// Create a writer that simulates short writes (returns n < len(p) with nil error)
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "job-123", "amazonphotos")

	rec := &PhotoRecord{Photo: provider.Photo{
		ID:          "node-with-a-long-identifier",
		Name:        "IMG_2024_0001.jpg",
		ContentType: "image/jpeg",
		Size:        1048576,
	}}

	err := w.WritePhoto(context.Background(), rec)
	require.NoError(t, err)

	// Verify complete output despite short writes
	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypePhoto, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	// Create a writer that returns 0 bytes written with nil error (pathological case)
	zeroWriter := &zeroWriteWriter{}
	w := NewJSONLWriter(zeroWriter, "job-123", "amazonphotos")

	err := w.WritePhoto(context.Background(), &PhotoRecord{Photo: provider.Photo{ID: "n"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter simulates an io.Writer that performs short writes.
// It writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	err := &WriteError{Op: "write", Err: errors.New("disk full")}
	assert.Equal(t, "output: write: disk full", err.Error())
	assert.True(t, errors.Is(err, err.Err))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{provider.ErrUpstreamTimeout, ErrCodeTimeout},
		{provider.ErrThrottled, ErrCodeThrottled},
		{provider.ErrNotFound, ErrCodeNotFound},
		{provider.ErrAccessDenied, ErrCodeAccessDenied},
		{provider.ErrInvalidCredentials, ErrCodeAccessDenied},
		{provider.ErrNotConnected, ErrCodeNotConnected},
		{provider.ErrProviderUnavailable, ErrCodeUpstream},
		{errors.New("other"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
