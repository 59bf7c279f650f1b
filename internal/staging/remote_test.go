package staging

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/config"
	"eduetl/internal/shared/testutil"
)

// objectStore is the in-memory state shared by the fake servers.
type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string][]byte)}
}

func (s *objectStore) put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
}

func (s *objectStore) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	return data, ok
}

func (s *objectStore) list(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// fakeGCS serves the subset of the Cloud Storage JSON API used by GCSBackend.
func fakeGCS(t *testing.T, store *objectStore) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			name, data := readGCSUpload(t, r)
			store.put(name, data)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"name": name, "bucket": "edu"})

		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			_, name, _ := strings.Cut(r.URL.Path, "/o/")
			data, ok := store.get(name)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
				return
			}
			w.Write(data)

		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/o"):
			items := []map[string]string{}
			for _, name := range store.list(r.URL.Query().Get("prefix")) {
				items = append(items, map[string]string{"name": name, "bucket": "edu"})
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"kind": "storage#objects", "items": items})

		default:
			http.NotFound(w, r)
		}
	}))
}

func readGCSUpload(t *testing.T, r *http.Request) (string, []byte) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)

	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		return r.URL.Query().Get("name"), data
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	require.NoError(t, err)
	var meta struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))

	mediaPart, err := mr.NextPart()
	require.NoError(t, err)
	data, err := io.ReadAll(mediaPart)
	require.NoError(t, err)
	return meta.Name, data
}

// fakeS3 serves path-style PutObject, GetObject and ListObjectsV2.
func fakeS3(store *objectStore) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

		switch {
		case r.Method == http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			store.put(key, data)
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && key == "":
			type content struct {
				Key  string `xml:"Key"`
				Size int    `xml:"Size"`
			}
			type result struct {
				XMLName     xml.Name  `xml:"ListBucketResult"`
				Name        string    `xml:"Name"`
				Prefix      string    `xml:"Prefix"`
				KeyCount    int       `xml:"KeyCount"`
				IsTruncated bool      `xml:"IsTruncated"`
				Contents    []content `xml:"Contents"`
			}
			res := result{Name: bucket, Prefix: r.URL.Query().Get("prefix")}
			for _, name := range store.list(res.Prefix) {
				data, _ := store.get(name)
				res.Contents = append(res.Contents, content{Key: name, Size: len(data)})
			}
			res.KeyCount = len(res.Contents)
			w.Header().Set("Content-Type", "application/xml")
			xml.NewEncoder(w).Encode(res)

		case r.Method == http.MethodGet:
			data, ok := store.get(key)
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
				return
			}
			w.Write(data)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func exerciseBackend(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()
	logger, _ := testutil.NewTestLogger(t)
	store := NewStore(backend, StoreOptions{Prefix: "data/parquet/", Logger: logger})

	_, err := store.Write(ctx, 2022, testutil.LongRecords([4]string{"ALBANY County", "2022S1", "ELA8", "48"}))
	require.NoError(t, err)
	_, err = store.Write(ctx, 2021, testutil.LongRecords([4]string{"ALBANY County", "2021S2", "ELA8", "44"}))
	require.NoError(t, err)

	years, err := store.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2021, 2022}, years)

	union, err := store.ReadAll(ctx, []int{2021, 2022})
	require.NoError(t, err)
	require.Len(t, union, 2)
	assert.Equal(t, "44", union[0].PercentProficient)
	assert.Equal(t, "48", union[1].PercentProficient)

	_, err = backend.Get(ctx, "data/parquet/SRC1999.parquet")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGCSBackend(t *testing.T) {
	objects := newObjectStore()
	srv := fakeGCS(t, objects)
	defer srv.Close()

	backend, err := NewGCSBackendFromConfig(context.Background(), config.StagingConfig{
		Backend:  config.StagingBackendGCS,
		Bucket:   "edu",
		Endpoint: srv.URL + "/storage/v1/",
	})
	require.NoError(t, err)
	assert.Equal(t, "gcs", backend.Name())

	exerciseBackend(t, backend)
	_, ok := objects.get("data/parquet/SRC2022.parquet")
	assert.True(t, ok)
}

func TestS3Backend(t *testing.T) {
	objects := newObjectStore()
	srv := fakeS3(objects)
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	backend := NewS3Backend(client, "edu")
	assert.Equal(t, "s3", backend.Name())

	exerciseBackend(t, backend)
	_, ok := objects.get("data/parquet/SRC2021.parquet")
	assert.True(t, ok)
}
