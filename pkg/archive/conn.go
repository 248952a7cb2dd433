package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/*
ObjectStore is the slice of object storage the archiver needs. Conn
implements it against MinIO or any S3-compatible endpoint.
*/
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (*bytes.Buffer, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

/*
Conn wraps an S3-compatible client bound to one bucket. Credentials
and endpoint default to the MINIO_* environment variables.
*/
type Conn struct {
	client    *minio.Client
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	secure    bool
}

type ConnOption func(*Conn)

func NewConn(options ...ConnOption) (*Conn, error) {
	conn := &Conn{
		endpoint:  os.Getenv("MINIO_ENDPOINT"),
		accessKey: os.Getenv("MINIO_ACCESS_KEY"),
		secretKey: os.Getenv("MINIO_SECRET_KEY"),
		bucket:    "archives",
	}

	for _, option := range options {
		option(conn)
	}

	client, err := minio.New(conn.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conn.accessKey, conn.secretKey, ""),
		Secure: conn.secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	conn.client = client
	return conn, nil
}

func WithEndpoint(endpoint string) ConnOption {
	return func(conn *Conn) {
		conn.endpoint = endpoint
	}
}

func WithCredentials(accessKey, secretKey string) ConnOption {
	return func(conn *Conn) {
		conn.accessKey = accessKey
		conn.secretKey = secretKey
	}
}

func WithBucket(bucket string) ConnOption {
	return func(conn *Conn) {
		conn.bucket = bucket
	}
}

func WithSecure(secure bool) ConnOption {
	return func(conn *Conn) {
		conn.secure = secure
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (conn *Conn) EnsureBucket(ctx context.Context) error {
	exists, err := conn.client.BucketExists(ctx, conn.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", conn.bucket, err)
	}

	if exists {
		return nil
	}

	if err := conn.client.MakeBucket(ctx, conn.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", conn.bucket, err)
	}

	return nil
}

func (conn *Conn) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := conn.client.PutObject(ctx, conn.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/json",
	})

	return err
}

func (conn *Conn) Get(ctx context.Context, key string) (*bytes.Buffer, error) {
	object, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	defer object.Close()

	buf := bytes.NewBuffer([]byte{})
	if _, err := io.Copy(buf, object); err != nil {
		return nil, err
	}

	return buf, nil
}

func (conn *Conn) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)

	for object := range conn.client.ListObjects(ctx, conn.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}

		keys = append(keys, object.Key)
	}

	return keys, nil
}

func (conn *Conn) Ping(ctx context.Context) error {
	_, err := conn.client.BucketExists(ctx, conn.bucket)
	return err
}
