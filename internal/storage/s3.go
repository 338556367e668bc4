package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

const s3Scheme = "s3://"

// S3Options configures the S3-compatible backend.
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// Prefix is prepended to every key; folder IDs never include it.
	Prefix string
	// EncryptionPassword enables the GCM envelope for uploaded files.
	EncryptionPassword string
}

// S3Store maps folders onto key prefixes. A folder is materialized as a zero-byte
// "name/" marker object so empty folders are listable.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	password string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return &S3Store{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		password: opts.EncryptionPassword,
	}, nil
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	if id == "" {
		return s.prefix
	}
	return s.prefix + "/" + id
}

func (s *S3Store) folderPrefix(id string) string {
	k := s.key(id)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (s *S3Store) location(id string) string { return s3Scheme + s.bucket + "/" + s.key(id) }

func (s *S3Store) CreateFolderIfNotExists(ctx context.Context, parentID, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	id := join(parentID, name)
	marker := s.folderPrefix(id)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(marker)})
	if err == nil {
		return id, nil
	}
	var nf *s3types.NotFound
	if !errors.As(err, &nf) {
		return "", fmt.Errorf("head folder marker %s: %w", marker, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(marker),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("create folder marker %s: %w", marker, err)
	}
	log.Debug().Str("folder", id).Msg("created folder marker")
	return id, nil
}

func (s *S3Store) UploadFile(ctx context.Context, parentID, name string, data []byte) (FileMeta, error) {
	if err := validName(name); err != nil {
		return FileMeta{}, err
	}
	id := join(parentID, name)
	ct := contentType(data)
	meta := map[string]string{"name": name, "encrypted": "false"}

	body := data
	if s.password != "" {
		enc, err := encryptGCM(data, s.password)
		if err != nil {
			return FileMeta{}, fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = enc
		meta["encrypted"] = "true"
		meta["encryption-format"] = encryptedFormat
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ct),
		Metadata:    meta,
	})
	if err != nil {
		return FileMeta{}, fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", s.key(id)).Int("size", len(data)).Bool("encrypted", s.password != "").Msg("uploaded file to S3")
	return FileMeta{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Location:    s.location(id),
		Size:        int64(len(data)),
		ContentType: ct,
	}, nil
}

func (s *S3Store) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	prefix := s.folderPrefix(folderID)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var items []Item
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list children failed: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" {
				continue
			}
			items = append(items, Item{ID: join(folderID, name), Name: name, Folder: true})
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || *obj.Key == prefix {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			id := join(folderID, name)
			it := Item{ID: id, Name: name, Location: s.location(id)}
			if obj.Size != nil {
				it.Size = *obj.Size
			}
			items = append(items, it)
		}
	}
	return items, nil
}

// Download accepts s3://bucket/key locations and plain folder-relative IDs.
func (s *S3Store) Download(ctx context.Context, location string) ([]byte, error) {
	key := s.key(location)
	if strings.HasPrefix(location, s3Scheme) {
		rest := strings.TrimPrefix(location, s3Scheme)
		bucket, k, ok := strings.Cut(rest, "/")
		if !ok || bucket != s.bucket {
			return nil, fmt.Errorf("storage: location %s is not in bucket %s", location, s.bucket)
		}
		key = k
	}
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if isEncrypted(data) {
		if s.password == "" {
			return nil, fmt.Errorf("storage: %s is encrypted and no password is configured", location)
		}
		return decryptGCM(data, s.password)
	}
	return data, nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
