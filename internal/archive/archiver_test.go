package archive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBlobStore keeps blobs in memory and can refuse writes per key.
type fakeBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	failOn string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("put refused")
	}
	f.blobs[key] = body
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return body, nil
}

func (f *fakeBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

func testPayload(appID string) Payload {
	return Payload{
		AppID: appID,
		Files: map[string][]byte{
			"stages.json":      []byte(`[{"stageId":1}]`),
			"environment.json": []byte(`{"sparkProperties":[]}`),
		},
	}
}

func TestUploadPayload(t *testing.T) {
	store := newFakeBlobStore()
	a := New(store, Config{Prefix: "proc", UploadWorkers: 2}, nil, nil)

	a.UploadPayload(context.Background(), testPayload("app-1"))

	assert.Equal(t, int64(2), a.Uploaded())
	assert.Zero(t, a.Failed())
	assert.Contains(t, store.blobs, "proc/app-1/stages.json")
	assert.Contains(t, store.blobs, "proc/app-1/environment.json")
}

func TestUploadPayload_CompressRoundtrip(t *testing.T) {
	store := newFakeBlobStore()
	up := New(store, Config{Prefix: "proc", Compress: true, UploadWorkers: 2, DownloadWorkers: 2}, nil, nil)

	up.UploadPayload(context.Background(), testPayload("app-1"))
	require.Contains(t, store.blobs, "proc/app-1/stages.json.gz")
	assert.NotEqual(t, []byte(`[{"stageId":1}]`), store.blobs["proc/app-1/stages.json.gz"])

	files, err := up.DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"stageId":1}]`), files["app-1/stages.json"])
	assert.Equal(t, []byte(`{"sparkProperties":[]}`), files["app-1/environment.json"])
}

func TestUploadPayload_FailuresAreBestEffort(t *testing.T) {
	store := newFakeBlobStore()
	store.failOn = "stages.json"
	a := New(store, Config{Prefix: "proc", UploadWorkers: 2}, nil, nil)

	// Must not panic or abort: the other file still lands.
	a.UploadPayload(context.Background(), testPayload("app-1"))

	assert.Equal(t, int64(1), a.Uploaded())
	assert.Equal(t, int64(1), a.Failed())
	assert.Contains(t, store.blobs, "proc/app-1/environment.json")
}

func TestUploadPayload_ForceRemoveClearsExisting(t *testing.T) {
	store := newFakeBlobStore()
	store.blobs["proc/app-1/stale.json"] = []byte("old")
	a := New(store, Config{Prefix: "proc", ForceRemove: true, UploadWorkers: 2}, nil, nil)

	a.UploadPayload(context.Background(), testPayload("app-1"))

	assert.NotContains(t, store.blobs, "proc/app-1/stale.json")
	assert.Contains(t, store.blobs, "proc/app-1/stages.json")
}

func TestGzipRoundtrip(t *testing.T) {
	data := []byte(strings.Repeat("spark telemetry ", 100))
	packed, err := gzipBytes(data)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(data))

	unpacked, err := gunzipBytes(packed)
	require.NoError(t, err)
	assert.Equal(t, data, unpacked)
}
