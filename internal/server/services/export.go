package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	sc "github.com/dmitrijs2005/leasekeeper/internal/server/config"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// ObjectPutter is the part of the S3 client the export needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client for the configured endpoint with static
// credentials. Path-style addressing keeps MinIO endpoints working.
func NewS3Client(ctx context.Context, cfg *sc.Config) (*s3.Client, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Snapshot is the exported state. Resources carry no secret material: the
// encrypted columns and the current secret are excluded from JSON.
type Snapshot struct {
	CreatedAt time.Time            `json:"created_at"`
	Owners    []models.Owner       `json:"owners"`
	Resources []models.Resource    `json:"resources"`
	Ledger    []models.LedgerEntry `json:"ledger"`
}

// ExportService writes point-in-time snapshots to object storage.
type ExportService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectPutter
	bucket      string
	logger      logging.Logger
	now         func() time.Time
}

func NewExportService(db *sql.DB, m repomanager.RepositoryManager, store ObjectPutter, bucket string, logger logging.Logger) *ExportService {
	return &ExportService{
		db:          db,
		repomanager: m,
		store:       store,
		bucket:      bucket,
		logger:      logger,
		now:         time.Now,
	}
}

func snapshotKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%04d/%02d/%02d/%v.json", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *ExportService) collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CreatedAt: s.now().UTC()}

	var err error
	if snap.Owners, err = s.repomanager.Owners(s.db).List(ctx); err != nil {
		return nil, fmt.Errorf("owners: %w", err)
	}
	if snap.Resources, err = s.repomanager.Resources(s.db).List(ctx); err != nil {
		return nil, fmt.Errorf("resources: %w", err)
	}
	if snap.Ledger, err = s.repomanager.Ledger(s.db).List(ctx); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return snap, nil
}

// Snapshot uploads the current state and returns its object key.
func (s *ExportService) Snapshot(ctx context.Context) (string, error) {
	snap, err := s.collect(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := snapshotKey(snap.CreatedAt)
	_, err = s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	s.logger.Info(ctx, "snapshot exported", "bucket", s.bucket, "key", key,
		"owners", len(snap.Owners), "resources", len(snap.Resources), "entries", len(snap.Ledger))
	return key, nil
}
