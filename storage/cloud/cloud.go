// Package cloud stores one object per block in a gocloud.dev blob bucket.
// Object keys are the dataset filename template expanded with the block id
// instead of the first block of the file, under a directory per field.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		visus.Errorf("Unable to make semver in cloud: %v\n", err)
	}
	storage.RegisterEngine(Engine{"cloud", "gocloud blob bucket", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewAccess opens the bucket given by config "bucket" or, if absent, the
// directory of the descriptor "url".
func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	base, err := storage.NewBase("cloud", file, config)
	if err != nil {
		return nil, err
	}
	ref, found, err := config.GetString("bucket")
	if err != nil {
		return nil, err
	}
	if !found || ref == "" {
		location, _, err := config.GetString("url")
		if err != nil {
			return nil, err
		}
		if ref, err = BucketRef(location); err != nil {
			return nil, err
		}
	}
	compression := visus.Zip
	if s, found, err := config.GetString("compression"); err != nil {
		return nil, err
	} else if found {
		if compression, err = visus.ParseCompression(s); err != nil {
			return nil, err
		}
	}
	bucket, err := OpenBucket(ref)
	if err != nil {
		return nil, err
	}
	return &Access{
		Base:        base,
		file:        file,
		ref:         ref,
		bucket:      bucket,
		compression: compression,
	}, nil
}

// BucketRef returns the bucket reference of the directory holding a
// descriptor url, e.g., "s3://bucket/dir" for "s3://bucket/dir/data.idx".
func BucketRef(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("no bucket or url for cloud access")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("bad cloud url %q: %v", location, err)
	}
	if u.Scheme == "" {
		u.Scheme = "file"
	}
	if u.Path != "" && path.Ext(u.Path) != "" {
		u.Path = path.Dir(u.Path)
	}
	if u.Path == "/" && u.Scheme != "file" {
		u.Path = ""
	}
	if u.Host == "" && u.Path == "" {
		return u.Scheme + "://", nil
	}
	return u.String(), nil
}

// OpenBucket returns a blob.Bucket for the given reference.
// The reference should be of the form:
//
//	file:///<directory>
//	mem://
//	gs://<bucketname>[/<prefix>]
//	s3://<bucketname>[/<prefix>]
//	vast://<endpoint>/<bucketname>
func OpenBucket(ref string) (bucket *blob.Bucket, err error) {
	ctx := context.Background()

	switch {
	case strings.HasPrefix(ref, "file://"):
		dir := filepath.FromSlash(strings.TrimPrefix(ref, "file://"))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		bucket, err = fileblob.OpenBucket(dir, nil)

	case strings.HasPrefix(ref, "mem://"):
		bucket = memblob.OpenBucket(nil)

	case strings.HasPrefix(ref, "s3://"):
		// Requires AWS credentials that gocloud can find and the AWS_REGION
		// environment variable.
		bucketname, prefix := splitBucket(strings.TrimPrefix(ref, "s3://"))
		bucket, err = blob.OpenBucket(ctx, "s3://"+bucketname)
		if err == nil && prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}

	case strings.HasPrefix(ref, "vast://"):
		// VAST S3-compatible storage.  AWS_REGION must be set but is ignored
		// and AWS_SHARED_CREDENTIALS_FILE points to the access keys.
		parts := strings.SplitN(strings.TrimPrefix(ref, "vast://"), "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("vast ref must be of form 'vast://<endpoint>/<bucket>'")
		}
		endpoint, bucketname := parts[0], parts[1]
		bucket, err = blob.OpenBucket(ctx, fmt.Sprintf("s3://%s?endpoint=%s&s3ForcePathStyle=true", bucketname, endpoint))

	case strings.HasPrefix(ref, "gs://"), strings.HasPrefix(ref, "gcs://"):
		// Default to Google application credentials.
		creds, cerr := gcp.DefaultCredentials(ctx)
		if cerr != nil {
			return nil, cerr
		}
		client, cerr := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if cerr != nil {
			return nil, cerr
		}
		trimmed := strings.TrimPrefix(strings.TrimPrefix(ref, "gs://"), "gcs://")
		bucketname, prefix := splitBucket(trimmed)
		bucket, err = gcsblob.OpenBucket(ctx, client, bucketname, nil)
		if err == nil && prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}

	default:
		return nil, fmt.Errorf("unsupported bucket reference %q", ref)
	}
	if err != nil {
		visus.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
		return nil, err
	}
	return bucket, nil
}

func splitBucket(s string) (bucketname, prefix string) {
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// Access stores each block as an encoded object.
type Access struct {
	*storage.Base
	file        *idx.File
	ref         string
	bucket      *blob.Bucket
	compression visus.Compression
}

// ObjectKey returns the key of the object holding q's block.
func (a *Access) ObjectKey(q *storage.BlockQuery) string {
	name := idx.ExpandFilenameTemplate(a.file.FilenameTemplate, a.file.TimeTemplate, q.Time, q.BlockID)
	name = strings.TrimPrefix(name, "./")
	return path.Join(q.Field.Name, name)
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	key := a.ObjectKey(q)
	value, err := a.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return a.ReadFailed(q, fmt.Errorf("%w: object %q in %s", storage.ErrBlockNotFound, key, a.ref))
	}
	if err != nil {
		return a.ReadFailed(q, fmt.Errorf("cannot read object %q: %v", key, err))
	}
	if err := storage.DecodeBlock(q, value); err != nil {
		return a.ReadFailed(q, err)
	}
	return a.ReadOk(q, len(value))
}

func (a *Access) WriteBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckWrite(q); err != nil {
		return a.WriteFailed(q, err)
	}
	value, err := storage.EncodeBlock(q, a.compression)
	if err != nil {
		return a.WriteFailed(q, err)
	}
	key := a.ObjectKey(q)
	opts := &blob.WriterOptions{ContentType: "application/x-msgpack"}
	if err := a.bucket.WriteAll(ctx, key, value, opts); err != nil {
		return a.WriteFailed(q, fmt.Errorf("cannot write object %q: %v", key, err))
	}
	return a.WriteOk(q, len(value))
}

func (a *Access) Close() error {
	return a.bucket.Close()
}
