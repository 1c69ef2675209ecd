package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options beschreiben das Ziel-Bucket für Datenbank-Backups. Der
// Endpoint erlaubt S3-kompatible Anbieter abseits von AWS.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix trennt die Backups dieser Installation von anderen Objekten
	// im selben Bucket.
	Prefix string
}

// BackupStore kapselt Upload und Rotation von Backup-Objekten.
type BackupStore struct {
	client *s3.Client
	opts   Options
}

// NewBackupStore erstellt einen S3-Client mit statischen Credentials und
// festem Endpoint.
func NewBackupStore(ctx context.Context, opts Options) (*BackupStore, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               opts.Endpoint,
				SigningRegion:     opts.Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return &BackupStore{client: s3.NewFromConfig(awsCfg), opts: opts}, nil
}

// Upload legt ein Backup-Objekt unter dem Prefix ab und gibt den
// vollständigen Objekt-Link zurück.
func (b *BackupStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := b.opts.Prefix + name
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", b.opts.Endpoint, b.opts.Bucket, key), nil
}

// Rotate löscht die ältesten Objekte unter dem Prefix, bis höchstens
// keep übrig sind. Gibt die Zahl der gelöschten Objekte zurück.
func (b *BackupStore) Rotate(ctx context.Context, keep int) (int, error) {
	output, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.opts.Bucket),
		Prefix: aws.String(b.opts.Prefix),
	})
	if err != nil {
		return 0, err
	}
	if len(output.Contents) <= keep {
		return 0, nil
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})

	deleted := 0
	for _, obj := range output.Contents[keep:] {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.opts.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
		}
		deleted++
	}
	return deleted, nil
}
