package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/option"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
)

// Input is an input file available on local disk.
type Input struct {
	Reference string // as supplied by the trigger
	Path      string // local path to read
	Name      string // base name, recorded as source_file
	Digest    string // hex sha256 of the content

	cleanup func() error
}

// Close removes any temporary copy made for a remote input.
func (in *Input) Close() error {
	if in.cleanup == nil {
		return nil
	}
	return in.cleanup()
}

// Opener streams a remote object identified by its full reference.
type Opener func(ctx context.Context, ref string) (io.ReadCloser, error)

// Fetcher resolves input file references to local files. Local paths and
// file:// URLs are read in place; s3://, gs:// and az:// objects are
// downloaded to a temporary file.
type Fetcher struct {
	storage config.StorageConfig
	tempDir string
	logger  *slog.Logger

	mu      sync.Mutex
	openers map[string]Opener
	s3      *s3.Client
	gcs     *storage.Client
	azure   *azblob.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithOpener overrides the opener for a URL scheme.
func WithOpener(scheme string, fn Opener) FetcherOption {
	return func(f *Fetcher) { f.openers[scheme] = fn }
}

// WithTempDir sets where remote inputs are downloaded.
func WithTempDir(dir string) FetcherOption {
	return func(f *Fetcher) { f.tempDir = dir }
}

// NewFetcher creates a Fetcher using the given remote credentials.
func NewFetcher(storageCfg config.StorageConfig, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{storage: storageCfg, logger: logger, openers: map[string]Opener{}}
	f.openers["s3"] = f.openS3
	f.openers["gs"] = f.openGCS
	f.openers["az"] = f.openAzure
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves ref and computes the content digest used as the file
// identity of every record id.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Input, error) {
	scheme, localPath, err := splitReference(ref)
	if err != nil {
		return nil, err
	}

	if scheme == "" || scheme == "file" {
		digest, err := digestFile(localPath)
		if err != nil {
			return nil, err
		}
		return &Input{Reference: ref, Path: localPath, Name: filepath.Base(localPath), Digest: digest}, nil
	}

	f.mu.Lock()
	open, ok := f.openers[scheme]
	f.mu.Unlock()
	if !ok {
		return nil, domain.NewPipelineError(domain.KindSourceUnreadable, "unsupported input scheme %q in %s", scheme, ref)
	}
	return f.download(ctx, ref, open)
}

func (f *Fetcher) download(ctx context.Context, ref string, open Opener) (*Input, error) {
	body, err := open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	u, _ := url.Parse(ref)
	name := path.Base(u.Path)

	tmp, err := os.CreateTemp(f.tempDir, "budget-input-*"+filepath.Ext(name))
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, true, err, "create temp file for %s", ref)
	}
	cleanup := func() error { return os.Remove(tmp.Name()) }

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), body); err != nil {
		_ = tmp.Close()
		_ = cleanup()
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, true, err, "download %s", ref)
	}
	if err := tmp.Close(); err != nil {
		_ = cleanup()
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, true, err, "write temp file for %s", ref)
	}

	if f.logger != nil {
		f.logger.Debug("downloaded input", "reference", ref, "path", tmp.Name())
	}
	return &Input{
		Reference: ref,
		Path:      tmp.Name(),
		Name:      name,
		Digest:    hex.EncodeToString(h.Sum(nil)),
		cleanup:   cleanup,
	}, nil
}

// Close releases any cloud clients created by the fetcher.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gcs != nil {
		return f.gcs.Close()
	}
	return nil
}

func (f *Fetcher) openS3(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3Path(ref)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "invalid reference")
	}
	client, err := f.s3Client()
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		var noBucket *s3types.NoSuchBucket
		permanent := errors.As(err, &noKey) || errors.As(err, &noBucket)
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, !permanent, err, "get %s", ref)
	}
	return out.Body, nil
}

func (f *Fetcher) s3Client() (*s3.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s3 != nil {
		return f.s3, nil
	}
	if !f.storage.HasS3Config() {
		return nil, domain.NewPipelineError(domain.KindSourceUnreadable, "S3 config is incomplete")
	}
	endpoint := *f.storage.S3Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	f.s3 = s3.New(s3.Options{
		Region: *f.storage.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*f.storage.S3KeyID, *f.storage.S3Secret, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})
	return f.s3, nil
}

func (f *Fetcher) openGCS(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := parseGCSPath(ref)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "invalid reference")
	}
	client, err := f.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		permanent := errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist)
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, !permanent, err, "get %s", ref)
	}
	return r, nil
}

func (f *Fetcher) gcsClient(ctx context.Context) (*storage.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gcs != nil {
		return f.gcs, nil
	}
	var opts []option.ClientOption
	if f.storage.GCSCredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, f.storage.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "create GCS client")
	}
	f.gcs = client
	return client, nil
}

func (f *Fetcher) openAzure(ctx context.Context, ref string) (io.ReadCloser, error) {
	container, blob, err := parseAzurePath(ref)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "invalid reference")
	}
	client, err := f.azureClient()
	if err != nil {
		return nil, err
	}
	resp, err := client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		permanent := bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.AuthenticationFailed)
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, !permanent, err, "get %s", ref)
	}
	return resp.Body, nil
}

func (f *Fetcher) azureClient() (*azblob.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.azure != nil {
		return f.azure, nil
	}
	if !f.storage.HasAzureConfig() {
		return nil, domain.NewPipelineError(domain.KindSourceUnreadable, "Azure storage account and key are required for az:// inputs")
	}
	cred, err := azblob.NewSharedKeyCredential(f.storage.AzureAccountName, f.storage.AzureAccountKey)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "create shared key credential")
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", f.storage.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "create Azure blob client")
	}
	f.azure = client
	return client, nil
}

// splitReference returns the lower-cased scheme and, for local inputs, the
// filesystem path.
func splitReference(ref string) (scheme, localPath string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", domain.NewPipelineError(domain.KindSourceUnreadable, "empty input file reference")
	}
	if !strings.Contains(ref, "://") {
		return "", ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "parse reference")
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme == "file" {
		return scheme, u.Path, nil
	}
	return scheme, "", nil
}

func digestFile(p string) (string, error) {
	file, err := os.Open(p) //nolint:gosec // input path comes from the trigger
	if err != nil {
		return "", unreadable(err, "open %s", filepath.Base(p))
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return "", unreadable(err, "stat %s", filepath.Base(p))
	}
	if info.IsDir() {
		return "", domain.NewPipelineError(domain.KindSourceUnreadable, "%s is a directory", p)
	}

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", unreadable(err, "read %s", filepath.Base(p))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseS3Path extracts bucket and key from an s3:// URI.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("empty bucket or key in S3 path %q", s3Path)
	}
	return bucket, key, nil
}

func parseGCSPath(p string) (bucket, key string, err error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", p, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, p)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("empty bucket or key in GCS path %q", p)
	}
	return bucket, key, nil
}

// parseAzurePath extracts container and blob from az://container/path/to/blob.
func parseAzurePath(p string) (container, blob string, err error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", p, err)
	}
	if u.Scheme != "az" {
		return "", "", fmt.Errorf("expected az:// scheme, got %q in %q", u.Scheme, p)
	}
	container = u.Host
	blob = strings.TrimPrefix(u.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("empty container or blob in Azure path %q", p)
	}
	return container, blob, nil
}
