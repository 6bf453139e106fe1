package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jlaffaye/ftp"

	"qpfwatch/internal/types"
)

// ContentType is sent with uploaded copies of the feed.
const ContentType = "application/rss+xml; charset=utf-8"

// FileSink writes the feed to a local path. The write goes to a temporary file
// in the same directory which is then renamed over the target, so readers see
// either the old document or the new one.
type FileSink struct {
	path string
}

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name implements types.FeedSink.
func (s *FileSink) Name() string { return "file" }

// Publish implements types.FeedSink.
func (s *FileSink) Publish(_ context.Context, doc []byte) error {
	return WriteFileAtomic(s.path, doc, 0o644)
}

// WriteFileAtomic replaces path with data via a temp file and rename.
func WriteFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// S3PutClient abstracts the S3 PutObject call for testability.
// Production code uses *s3.Client.
type S3PutClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads the feed to a bucket, overwriting the previous object.
type S3Sink struct {
	client S3PutClient
	bucket string
	key    string
}

// NewS3Sink returns a sink uploading to s3://bucket/key.
func NewS3Sink(client S3PutClient, bucket, key string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, key: key}
}

// Name implements types.FeedSink.
func (s *S3Sink) Name() string { return "s3" }

// Publish implements types.FeedSink.
func (s *S3Sink) Publish(ctx context.Context, doc []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(doc),
		ContentLength: aws.Int64(int64(len(doc))),
		ContentType:   aws.String(ContentType),
		CacheControl:  aws.String("max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// ftpConn is the subset of *ftp.ServerConn the FTP sink uses.
type ftpConn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Quit() error
}

type ftpDialer func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	return ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
}

// FTPSink uploads the feed to an FTP server. It stores to a temporary name and
// renames it over the target path.
type FTPSink struct {
	addr     string
	user     string
	password types.SecretString
	path     string
	timeout  time.Duration
	dial     ftpDialer
}

// NewFTPSink returns a sink uploading to addr (host:port) at remotePath.
func NewFTPSink(addr, user string, password types.SecretString, remotePath string, timeout time.Duration) *FTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FTPSink{
		addr:     addr,
		user:     user,
		password: password,
		path:     remotePath,
		timeout:  timeout,
		dial:     dialFTP,
	}
}

// Name implements types.FeedSink.
func (s *FTPSink) Name() string { return "ftp" }

// Publish implements types.FeedSink.
func (s *FTPSink) Publish(ctx context.Context, doc []byte) error {
	conn, err := s.dial(ctx, s.addr, s.timeout)
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.user, s.password.Unmask()); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	tmp := path.Join(path.Dir(s.path), "."+path.Base(s.path)+".tmp")
	if err := conn.Stor(tmp, bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("ftp stor: %w", err)
	}
	if err := conn.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("ftp rename: %w", err)
	}
	return nil
}

// PublishReport lists the mirrors that failed during one publish.
type PublishReport struct {
	MirrorFailures []string
}

// Publisher writes the document to the primary sink and then to each mirror.
// The primary sink must succeed. Mirror failures are logged and reported but
// never returned as errors; the next run rewrites the whole document anyway.
type Publisher struct {
	primary types.FeedSink
	mirrors []types.FeedSink
	logger  *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(primary types.FeedSink, mirrors []types.FeedSink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish writes doc to all sinks.
func (p *Publisher) Publish(ctx context.Context, doc []byte) (PublishReport, error) {
	var report PublishReport

	if err := p.primary.Publish(ctx, doc); err != nil {
		return report, types.NewAppError(types.ErrCodeInternalFeedPublish,
			"failed to write feed", err).WithDetails(map[string]any{"sink": p.primary.Name()})
	}

	for _, m := range p.mirrors {
		if err := m.Publish(ctx, doc); err != nil {
			p.logger.WarnContext(ctx, "Feed mirror failed",
				"sink", m.Name(),
				"error", err.Error(),
			)
			report.MirrorFailures = append(report.MirrorFailures, m.Name())
			continue
		}
		p.logger.DebugContext(ctx, "Feed mirrored", "sink", m.Name(), "bytes", len(doc))
	}

	return report, nil
}
