package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Options — параметры подключения к S3-совместимому хранилищу.
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3 — хранилище в бакете S3. Загрузка идёт через multipart-uploader,
// поэтому размер потока заранее знать не нужно.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3 создаёт клиент S3. Статические ключи используются, если заданы,
// иначе цепочка учётных данных AWS по умолчанию.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("не задан бакет S3")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return &S3{client: client, uploader: manager.NewUploader(client), bucket: opts.Bucket}, nil
}

// Name реализует Backend.
func (b *S3) Name() string { return "s3" }

func (b *S3) uri(key string) string {
	return "s3://" + b.bucket + "/" + key
}

// key извлекает ключ объекта из URI этого бакета.
func (b *S3) key(uri string) (string, error) {
	key, ok := strings.CutPrefix(uri, "s3://"+b.bucket+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return key, nil
}

// Put реализует Backend. При несовпадении размера загруженный объект удаляется.
func (b *S3) Put(ctx context.Context, bucketID uuid.UUID, key string, r io.Reader, size *int64) (*Object, error) {
	name := objectName(bucketID, key)
	hr := newHashingReader(r)

	if _, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
		Body:   hr,
	}); err != nil {
		return nil, fmt.Errorf("ошибка загрузки в S3 %s: %w", name, err)
	}
	if err := checkSize(size, hr.n); err != nil {
		_ = b.Delete(ctx, b.uri(name))
		return nil, err
	}
	return &Object{URI: b.uri(name), Size: hr.n, Checksum: hr.checksum()}, nil
}

// Open реализует Backend.
func (b *S3) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := b.key(uri)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("ошибка чтения из S3 %s: %w", uri, err)
	}
	return out.Body, nil
}

// Delete реализует Backend.
func (b *S3) Delete(ctx context.Context, uri string) error {
	key, err := b.key(uri)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("ошибка удаления из S3 %s: %w", uri, err)
	}
	return nil
}
