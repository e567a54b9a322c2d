package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFetch_LocalAndFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.csv")
	require.NoError(t, os.WriteFile(path, []byte("Item,Amount\nA,1\n"), 0o600))

	f := NewFetcher(config.StorageConfig{}, nil)

	for _, ref := range []string{path, "file://" + path} {
		in, err := f.Fetch(context.Background(), ref)
		require.NoError(t, err, ref)
		assert.Equal(t, path, in.Path)
		assert.Equal(t, "budget.csv", in.Name)
		assert.Equal(t, sha("Item,Amount\nA,1\n"), in.Digest)
		require.NoError(t, in.Close())
		_, err = os.Stat(path)
		assert.NoError(t, err, "local inputs are never removed")
	}
}

func TestFetch_RemoteDownloadsToTemp(t *testing.T) {
	tmp := t.TempDir()
	var gotRef string
	f := NewFetcher(config.StorageConfig{}, nil,
		WithTempDir(tmp),
		WithOpener("s3", func(_ context.Context, ref string) (io.ReadCloser, error) {
			gotRef = ref
			return io.NopCloser(strings.NewReader("payload")), nil
		}),
	)

	in, err := f.Fetch(context.Background(), "s3://budgets/2025/adopted.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "s3://budgets/2025/adopted.xlsx", gotRef)
	assert.Equal(t, "adopted.xlsx", in.Name)
	assert.Equal(t, sha("payload"), in.Digest)
	assert.Equal(t, ".xlsx", filepath.Ext(in.Path))
	assert.Equal(t, tmp, filepath.Dir(in.Path))

	data, err := os.ReadFile(in.Path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, in.Close())
	_, err = os.Stat(in.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_RemoteErrorPropagates(t *testing.T) {
	transient := domain.WrapPipelineError(domain.KindSourceUnreadable, true, errors.New("timeout"), "get")
	f := NewFetcher(config.StorageConfig{}, nil,
		WithOpener("gs", func(context.Context, string) (io.ReadCloser, error) { return nil, transient }),
	)
	_, err := f.Fetch(context.Background(), "gs://b/o.xlsx")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestFetch_Errors(t *testing.T) {
	f := NewFetcher(config.StorageConfig{}, nil)
	dir := t.TempDir()

	tests := []struct {
		name string
		ref  string
	}{
		{"empty", "  "},
		{"missing_local", filepath.Join(dir, "nope.xlsx")},
		{"directory", dir},
		{"unsupported_scheme", "ftp://host/file.xlsx"},
		{"s3_without_credentials", "s3://bucket/key.xlsx"},
		{"azure_without_credentials", "az://container/key.xlsx"},
		{"s3_missing_key", "s3://bucket"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), tc.ref)
			require.Error(t, err)
			assert.Equal(t, domain.KindSourceUnreadable, domain.KindOf(err))
			assert.False(t, domain.IsRetryable(err))
		})
	}
}

func TestParsePaths(t *testing.T) {
	b, k, err := ParseS3Path("s3://bucket/dir/file.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "dir/file.xlsx", k)

	_, _, err = ParseS3Path("gs://bucket/file.xlsx")
	assert.Error(t, err)

	b, k, err = parseGCSPath("gs://city-budget/fy25.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "city-budget", b)
	assert.Equal(t, "fy25.xlsx", k)

	c, blob, err := parseAzurePath("az://finance/uploads/fy25.csv")
	require.NoError(t, err)
	assert.Equal(t, "finance", c)
	assert.Equal(t, "uploads/fy25.csv", blob)

	_, _, err = parseAzurePath("az://finance")
	assert.Error(t, err)
}

func TestOpenInput_RemoteCSVKeepsObjectName(t *testing.T) {
	f := NewFetcher(config.StorageConfig{}, nil,
		WithTempDir(t.TempDir()),
		WithOpener("s3", func(_ context.Context, _ string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("Item,Amount\nA,1\n")), nil
		}),
	)

	var names []string
	for range 2 {
		in, err := f.Fetch(context.Background(), "s3://bucket/parks.csv")
		require.NoError(t, err)
		assert.NotEqual(t, "parks.csv", filepath.Base(in.Path))

		wb, err := OpenInput(in)
		require.NoError(t, err)
		names = append(names, wb.SheetNames()...)
		require.NoError(t, wb.Close())
		require.NoError(t, in.Close())
	}
	assert.Equal(t, []string{"parks", "parks"}, names)
}
