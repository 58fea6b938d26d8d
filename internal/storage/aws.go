package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/engagement-tracker/internal/domain"
)

// AWSOptions selects region and credentials for every AWS client the
// services build (S3, SQS, DynamoDB).
type AWSOptions struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string
}

// LoadAWSConfig builds an aws.Config. Static keys win over a named profile;
// with neither, the default credential chain applies.
func LoadAWSConfig(ctx context.Context, o AWSOptions) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	switch {
	case o.AccessKeyID != "" && o.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	case o.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	if o.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(o.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each analytics row to
// s3://<bucket>/<prefix>/<campaign_id>/latest.json.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver writing into bucket under prefix.
func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a campaign.
func (a *S3Archiver) Key(campaignID string) string {
	return path.Join(a.prefix, campaignID, "latest.json")
}

// Archive uploads the row as JSON, overwriting the previous snapshot.
func (a *S3Archiver) Archive(ctx context.Context, row domain.CampaignAnalytics) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling analytics: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(row.CampaignID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading to S3: %w", err)
	}
	return nil
}
