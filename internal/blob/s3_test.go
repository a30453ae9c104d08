package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the subset of the S3 REST API the store uses.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func empty(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return f.list(req.URL.Query().Get("prefix"), req.URL.Query().Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.state[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		resp := empty(http.StatusOK)
		resp.Header.Set("Content-Length", strconv.Itoa(len(obj.body)))
		resp.Header.Set("Content-Type", obj.contentType)
		resp.Header.Set("ETag", `"etag123"`)
		resp.Header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		return resp, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		if _, exists := f.state[key]; !exists {
			f.state[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		}
		resp := empty(http.StatusOK)
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	case http.MethodGet:
		obj, ok := f.state[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		resp := empty(http.StatusOK)
		resp.Body = io.NopCloser(bytes.NewReader(obj.body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(obj.body)))
		resp.Header.Set("Content-Type", obj.contentType)
		resp.Header.Set("ETag", `"etag"`)
		resp.Header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		return resp, nil
	case http.MethodDelete:
		delete(f.state, key)
		return empty(http.StatusNoContent), nil
	}
	return empty(http.StatusNotImplemented), nil
}

// list pages after the first key when more than one matches.
func (f *fakeS3) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	page := keys
	switch {
	case token == "" && len(keys) > 1:
		b.WriteString("<IsTruncated>true</IsTruncated><NextContinuationToken>tok123</NextContinuationToken>")
		page = keys[:1]
	case token != "" && len(keys) > 1:
		b.WriteString("<IsTruncated>false</IsTruncated>")
		page = keys[1:]
	default:
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range page {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k].body))
	}
	b.WriteString("</ListBucketResult>")
	resp := empty(http.StatusOK)
	resp.Body = io.NopCloser(strings.NewReader(b.String()))
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeS3Store(t *testing.T) *S3Store {
	t.Helper()
	rt := &fakeS3{state: make(map[string]fakeObject)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
	})
	return &S3Store{client: client, bucket: "test-bucket"}
}

func TestS3StoreFlow(t *testing.T) {
	store := newFakeS3Store(t)
	ctx := context.Background()

	info, err := store.Put(ctx, "snapshots/l/1.json", bytes.NewReader([]byte("hello")), PutOptions{ContentType: "application/json"})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/l/1.json", info.Key)
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, "etag123", info.ETag)

	_, err = store.Put(ctx, "snapshots/l/1.json", bytes.NewReader([]byte("again")), PutOptions{})
	assert.ErrorIs(t, err, ErrExists)

	_, rc, err := store.Get(ctx, "snapshots/l/1.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	_, err = store.Put(ctx, "snapshots/l/2.json", bytes.NewReader([]byte("two")), PutOptions{})
	require.NoError(t, err)
	list, err := store.List(ctx, "snapshots/l/")
	require.NoError(t, err)
	require.Len(t, list, 2, "both pages are collected")
	assert.Equal(t, "snapshots/l/1.json", list[0].Key)
	assert.Equal(t, int64(3), list[1].Size)

	ok, err := store.Delete(ctx, "snapshots/l/1.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, "snapshots/l/1.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3StoreMissingKeys(t *testing.T) {
	store := newFakeS3Store(t)
	ctx := context.Background()
	_, err := store.Head(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := store.List(ctx, "none/")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewS3(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "bkt",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s.Driver())
	assert.Equal(t, "bkt", s.Bucket())

	_, err = NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestFromHeadTrimsETag(t *testing.T) {
	store := newFakeS3Store(t)
	info := store.fromHead("k", 10, nil, aws.String(`"etagval"`), map[string]string{"x": "y"}, nil)
	assert.Equal(t, "etagval", info.ETag)
	assert.Empty(t, info.ContentType)
	assert.Equal(t, int64(10), info.Size)
}
