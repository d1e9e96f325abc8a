package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func fixedStore(mock S3API) *Store {
	s := NewStore(mock, "exports-bucket", nil)
	s.now = func() time.Time { return time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_Archive(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	payload := map[string]any{"summary": "Lombalgie", "targetRegions": []string{"lombaires"}}
	err := store.Archive(context.Background(), KindBilan, "b1", "prac-1", "https://cdn/b1.pdf", payload)
	require.NoError(t, err)

	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "exports-bucket", mock.putCalls[0].bucket)
	assert.Contains(t, mock.putCalls[0].key, "exports/v1/bilan/by-date/2026/02/12/b1-")

	var snap Snapshot
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &snap))
	assert.Equal(t, KindBilan, snap.Kind)
	assert.Equal(t, "https://cdn/b1.pdf", snap.DocumentURL)
	assert.JSONEq(t, `{"summary":"Lombalgie","targetRegions":["lombaires"]}`, string(snap.Payload))

	assert.Equal(t, "exports/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "b1", entry.ID)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.Archive(context.Background(), KindProgram, "s1", "prac-1", "", nil))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{ID: "b1", Kind: KindBilan}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{ID: "s1", Kind: KindProgram}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureIsReported(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := fixedStore(mock)

	err := store.AppendManifest(context.Background(), ManifestEntry{ID: "b1"})
	assert.Error(t, err)
	assert.Empty(t, mock.putCalls, "never overwrite a manifest we could not read")
}
