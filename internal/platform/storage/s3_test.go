package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyKeepsOnlyExtension(t *testing.T) {
	key := ObjectKey("/payments/proofs/", `C:\Users\me\..\receipt.PDF`)
	assert.True(t, strings.HasPrefix(key, "payments/proofs/"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)
	assert.NotContains(t, key, "..")

	key = ObjectKey("expenses", "noext")
	assert.Len(t, strings.Split(key, "/"), 4)
}

func TestPresignPutAgainstCustomEndpoint(t *testing.T) {
	s, err := NewS3(context.Background(), Config{
		Endpoint:        "http://minio.local:9000",
		Region:          "us-east-1",
		Bucket:          "treasury",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
		UsePathStyle:    true,
		PresignTTL:      5 * time.Minute,
	})
	require.NoError(t, err)

	up, err := s.PresignPut(context.Background(), "payments", "proof.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "PUT", up.Method)
	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	assert.Equal(t, "minio.local:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/treasury/payments/"), u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "http://minio.local:9000/treasury/"+up.Key, up.ObjectURL)
}
