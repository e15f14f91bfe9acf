package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "reports/2024/03/09/run.json", GenerateKey("reports", "run.json", now))
	assert.Equal(t, "2024/03/09/run.txt", GenerateKey("", "run.txt", now))
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestS3Client_Upload(t *testing.T) {
	var method, reqPath, contentType, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		reqPath = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewS3Client(S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "reports",
		BasePath:        "revdal/",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	res, err := c.Upload(context.Background(), "run.json", strings.NewReader(`{"ok":true}`), "application/json", 11)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/reports/revdal/run.json", reqPath)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, `{"ok":true}`, body)
	assert.Equal(t, "revdal/run.json", res.Key)
	assert.Equal(t, srv.URL+"/reports/revdal/run.json", res.URL)
}

func TestS3Client_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewS3Client(S3Config{
		Endpoint: srv.URL, Region: "us-east-1", AccessKeyID: "k", SecretAccessKey: "s",
		Bucket: "reports", ForcePathStyle: true,
	})
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), "run.json", strings.NewReader("{}"), "application/json", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.json")
}
