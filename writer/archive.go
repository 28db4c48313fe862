package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "legendflow/config"
	"legendflow/logger"
)

// Archiver ships compressed rotated files to S3. It is wired as the
// compressor's onDone hook, so only fully written .gz files are ever
// uploaded. Upload failures are logged and non-fatal; the local file is
// kept whenever the upload did not succeed.
type Archiver struct {
	client      *s3.Client
	bucket      string
	keyPrefix   string
	baseDir     string
	removeLocal bool

	sem chan struct{}
	wg  sync.WaitGroup
	log *logger.Log
}

func NewArchiver(cfg *appconfig.Config) (*Archiver, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	s3cfg := cfg.Storage.S3
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket": s3cfg.Bucket,
		"prefix": s3cfg.KeyPrefix,
	}).Info("S3 archiver initialized")

	return &Archiver{
		client:      s3.NewFromConfig(awsCfg),
		bucket:      s3cfg.Bucket,
		keyPrefix:   strings.Trim(s3cfg.KeyPrefix, "/"),
		baseDir:     cfg.Storage.Dir,
		removeLocal: s3cfg.RemoveLocal,
		sem:         make(chan struct{}, 2),
		log:         log,
	}, nil
}

// Enqueue schedules one compressed file for upload. The object key mirrors
// the file's path relative to the storage directory.
func (a *Archiver) Enqueue(gzPath string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sem <- struct{}{}
		defer func() { <-a.sem }()
		a.upload(gzPath)
	}()
}

func (a *Archiver) upload(gzPath string) {
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"file": gzPath})

	rel, err := filepath.Rel(a.baseDir, gzPath)
	if err != nil {
		rel = filepath.Base(gzPath)
	}
	key := filepath.ToSlash(rel)
	if a.keyPrefix != "" {
		key = a.keyPrefix + "/" + key
	}

	file, err := os.Open(gzPath)
	if err != nil {
		log.WithError(err).Warn("failed to open file for archive upload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, putErr := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/gzip"),
	})
	file.Close()
	if putErr != nil {
		log.WithError(putErr).Warn("archive upload failed; local file kept")
		return
	}

	logger.RecordStreamMessage("s3_archive", 0)
	log.WithFields(logger.Fields{"key": key}).Debug("archived rotated file")

	if a.removeLocal {
		if err := os.Remove(gzPath); err != nil {
			log.WithError(err).Warn("failed to remove archived local file")
		}
	}
}

// WaitTimeout blocks until in-flight uploads finish or the timeout
// elapses.
func (a *Archiver) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
