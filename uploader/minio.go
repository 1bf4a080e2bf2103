package uploader

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
)

// S3Transport stores recordings straight into the MinIO bucket the analysis
// pipeline reads from, bypassing the backend upload endpoint. The object key
// keeps the <sessionId>_<camera>.webm convention so the analysis workers can
// resolve the session from the key alone.
type S3Transport struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Transport(client *minio.Client, bucket, prefix string) *S3Transport {
	return &S3Transport{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (t *S3Transport) Upload(ctx context.Context, req Request, onProgress func(int)) (*Result, error) {
	object := path.Join(t.prefix, fmt.Sprintf("%s_%s.webm", req.SessionId, req.Camera))
	reader := newCountingReader(req.Blob.Data, onProgress)

	_, err := t.client.PutObject(ctx, t.bucket, object, reader, int64(len(req.Blob.Data)), minio.PutObjectOptions{
		ContentType: req.Blob.MediaType,
	})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		return nil, &UploadError{StatusCode: errResp.StatusCode, Reason: errResp.Message, Err: err}
	}

	if onProgress != nil {
		onProgress(100)
	}
	return &Result{
		RemoteTaskId: fmt.Sprintf("%s_%s", req.SessionId, req.Camera),
		Url:          fmt.Sprintf("s3://%s/%s", t.bucket, object),
	}, nil
}

type countingReader struct {
	r        *bytes.Reader
	total    int
	read     int
	onChange func(int)
}

func newCountingReader(data []byte, onChange func(int)) *countingReader {
	return &countingReader{
		r:        bytes.NewReader(data),
		total:    len(data),
		onChange: onChange,
	}
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.read += n
		if c.onChange != nil && c.total > 0 {
			c.onChange(c.read * 100 / c.total)
		}
	}
	return n, err
}
