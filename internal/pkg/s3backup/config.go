package s3backup

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the settings of the encrypted callback archive
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
	AppEnv          string
}

// Validate checks the required fields when archiving is enabled
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when the S3 archive is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when the S3 archive is enabled")
	}
	if c.BucketName == "" {
		return errors.New("S3_BUCKET_NAME is required when the S3 archive is enabled")
	}
	return nil
}

// IsEnabled returns true if the S3 archive is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ResponseObjectKey is the archive location of a sealed callback payload.
// Format: responses/YYYY/MM/<transaction_uuid>.bin
func ResponseObjectKey(transactionUUID string, receivedAt time.Time) string {
	receivedAt = receivedAt.UTC()
	return fmt.Sprintf("responses/%04d/%02d/%s.bin", receivedAt.Year(), int(receivedAt.Month()), transactionUUID)
}
