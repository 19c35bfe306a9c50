// Package s3 persists artifacts to Amazon S3 or any S3 compatible object
// store.
//
// Objects are laid out as <prefix><session>/<name>/<version>, with the
// version zero padded so lexical order equals version order. Artifact
// metadata travels as S3 user metadata.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/devmesh/artifact"
	"github.com/hupe1980/devmesh/core"
)

// Client is the subset of *s3.Client used by Store.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config describes the bucket.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint targets an S3 compatible service (MinIO, LocalStack). Path
	// style addressing is enabled when set.
	Endpoint string
}

// Store is a versioned core.ArtifactStore on S3. Version allocation is
// serialized within one process; concurrent writers in different processes
// may race on the same name.
type Store struct {
	client Client
	bucket string
	prefix string
	mu     sync.Mutex
}

// New creates a Store on an existing client.
func New(client Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// NewFromConfig loads the default AWS credential chain and creates a Store.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *Store) namePrefix(sessionID, name string) string {
	return s.prefix + sessionID + "/" + name + "/"
}

func (s *Store) key(sessionID, name string, version int) string {
	return s.namePrefix(sessionID, name) + fmt.Sprintf("%010d", version)
}

// Save uploads data as the next version of name.
func (s *Store) Save(ctx context.Context, sessionID, name string, data []byte, metadata map[string]string) (core.ArtifactInfo, error) {
	if err := artifact.ValidateName(name); err != nil {
		return core.ArtifactInfo{}, fmt.Errorf("%w: %q", err, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versions(ctx, sessionID, name)
	if err != nil {
		return core.ArtifactInfo{}, err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}

	info := core.ArtifactInfo{
		ID:          core.NewID(),
		Name:        name,
		Version:     next,
		Size:        len(data),
		ContentType: metadata["content_type"],
		Metadata:    metadata,
		Created:     core.Now(),
	}

	userMeta := map[string]string{"artifact-id": info.ID}
	for k, v := range metadata {
		userMeta[k] = v
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(sessionID, name, next)),
		Body:     bytes.NewReader(data),
		Metadata: userMeta,
	}
	if info.ContentType != "" {
		in.ContentType = aws.String(info.ContentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return core.ArtifactInfo{}, fmt.Errorf("put artifact %s: %w", name, err)
	}
	return info, nil
}

// Load downloads the requested version, or the latest when version <= 0.
func (s *Store) Load(ctx context.Context, sessionID, name string, version int) (*core.Artifact, error) {
	if version <= 0 {
		versions, err := s.versions(ctx, sessionID, name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w: %s/%s", artifact.ErrNotFound, sessionID, name)
		}
		version = versions[len(versions)-1].Version
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, name, version)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s/%s version %d", artifact.ErrNotFound, sessionID, name, version)
		}
		return nil, fmt.Errorf("get artifact %s: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		if k != "artifact-id" {
			meta[k] = v
		}
	}
	a := &core.Artifact{
		ArtifactInfo: core.ArtifactInfo{
			ID:          out.Metadata["artifact-id"],
			Name:        name,
			Version:     version,
			Size:        len(data),
			ContentType: aws.ToString(out.ContentType),
			Metadata:    meta,
			Created:     aws.ToTime(out.LastModified),
		},
		Data: data,
	}
	return a, nil
}

// List returns the latest version of every artifact in the session.
func (s *Store) List(ctx context.Context, sessionID string) ([]core.ArtifactInfo, error) {
	objects, err := s.list(ctx, s.prefix+sessionID+"/")
	if err != nil {
		return nil, err
	}
	latest := map[string]core.ArtifactInfo{}
	for _, info := range objects {
		if cur, ok := latest[info.Name]; !ok || info.Version > cur.Version {
			latest[info.Name] = info
		}
	}
	out := make([]core.ArtifactInfo, 0, len(latest))
	for _, info := range latest {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes every version of name.
func (s *Store) Delete(ctx context.Context, sessionID, name string) error {
	versions, err := s.versions(ctx, sessionID, name)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%w: %s/%s", artifact.ErrNotFound, sessionID, name)
	}
	for _, v := range versions {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(sessionID, name, v.Version)),
		}); err != nil {
			return fmt.Errorf("delete artifact %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) versions(ctx context.Context, sessionID, name string) ([]core.ArtifactInfo, error) {
	infos, err := s.list(ctx, s.namePrefix(sessionID, name))
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if info.Name == name {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// list parses every object below prefix into an ArtifactInfo. Keys that do
// not follow the layout are skipped.
func (s *Store) list(ctx context.Context, prefix string) ([]core.ArtifactInfo, error) {
	var out []core.ArtifactInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rest := strings.TrimPrefix(key, s.prefix)
			parts := strings.Split(rest, "/")
			if len(parts) != 3 {
				continue
			}
			version, err := strconv.Atoi(parts[2])
			if err != nil {
				continue
			}
			out = append(out, core.ArtifactInfo{
				ID:      key,
				Name:    parts[1],
				Version: version,
				Size:    int(aws.ToInt64(obj.Size)),
				Created: timeOrZero(obj.LastModified),
			})
		}
	}
	return out, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
