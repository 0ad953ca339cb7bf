package storage

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	miniogo "github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "runs/abc/dut-IDVD.csv", ArchiveKey("abc", "/data/lab/dut-IDVD.csv"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, ContentTypeCSV, ContentTypeFor("a/b-IDVG.csv"))
	assert.Equal(t, ContentTypeXLSX, ContentTypeFor("a/b-IDVG.XLSX"))
	assert.NoError(t, validateContentType(ContentTypeCSV))
	assert.Error(t, validateContentType("audio/wav"))
}

func TestNewS3ServiceRequiresBucket(t *testing.T) {
	_, err := NewS3Service(S3Config{})
	assert.Error(t, err)
}

// createMinioBucket creates a bucket in MinIO for testing
func createMinioBucket(ctx context.Context, endpoint, bucketName string) error {
	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  miniocreds.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		return err
	}
	return client.MakeBucket(ctx, bucketName, miniogo.MakeBucketOptions{})
}

func TestS3Service_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := minio.Run(ctx,
		"minio/minio:RELEASE.2024-10-29T16-01-48Z",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, container.Terminate(ctx))
	}()

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	bucket := "fetbench-test-" + uuid.New().String()[:8]
	require.NoError(t, createMinioBucket(ctx, endpoint, bucket))

	svc, err := NewS3Service(S3Config{
		Bucket:    bucket,
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dut-IDVD.csv")
	content := "VD (V),IDS (A),IG (A)\n-1,0.001,1e-12\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	key := ArchiveKey("run-1", path)
	require.NoError(t, svc.UploadFile(ctx, key, path, ContentTypeCSV))

	data, err := svc.DownloadFile(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	url, err := svc.GenerateDownloadURL(ctx, key)
	require.NoError(t, err)
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.DeleteFile(ctx, key))
	_, err = svc.DownloadFile(ctx, key)
	assert.Error(t, err)

	assert.Error(t, svc.UploadFile(ctx, key, path, "audio/wav"))
}
