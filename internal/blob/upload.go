package blob

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Upload is an in-flight streaming write of one object. Bytes written to it are
// forwarded to storage as they arrive. The object only becomes visible once
// Commit returns nil; Abort discards whatever was sent.
type Upload interface {
	io.Writer
	Commit() error
	Abort(cause error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// pipeUpload feeds an io.Pipe into the upload manager running in its own goroutine.
type pipeUpload struct {
	pw     *io.PipeWriter
	done   chan error
	cancel context.CancelFunc

	once sync.Once
	err  error
}

func startPipeUpload(ctx context.Context, up uploader, bucket, key, contentType string) *pipeUpload {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	u := &pipeUpload{pw: pw, done: make(chan error, 1), cancel: cancel}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	go func() {
		_, err := up.Upload(ctx, input)
		// Unblock a writer still pushing bytes after the upload gave up.
		pr.CloseWithError(err)
		u.done <- err
	}()

	return u
}

func (u *pipeUpload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// Commit signals end of stream and waits for the upload to complete.
func (u *pipeUpload) Commit() error {
	u.once.Do(func() {
		u.pw.Close()
		u.err = <-u.done
		u.cancel()
	})
	return u.err
}

// Abort fails the stream with cause. The upload manager sees a read error and
// aborts the multipart upload while its context is still live.
func (u *pipeUpload) Abort(cause error) {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	u.once.Do(func() {
		u.pw.CloseWithError(cause)
		<-u.done
		u.cancel()
		u.err = cause
	})
}
