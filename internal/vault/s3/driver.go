// Package s3 implements the vault collaborator against an AWS S3 bucket.
// Containers are key prefixes, and object ids are full keys. S3 has no
// native trash or parent-pointer semantics, so the destructive tiers are
// emulated: Trash and Move both copy the object below a dedicated prefix
// and then delete the original, which means a deployment whose IAM policy
// denies s3:DeleteObject cannot clear the intake prefix at all; the
// configured capability flags should reflect that so the cleanup routine
// can surface it rather than burning round trips.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hbomb79/Muse/internal/vault"
)

type (
	// Config carries the bucket coordinates plus the capability flags for
	// this deployment. IAM policy is not discoverable client-side, so the
	// operator states up front whether deletes/trashing will be permitted.
	Config struct {
		Bucket    string `yaml:"bucket" env:"VAULT_S3_BUCKET"`
		Region    string `yaml:"region" env:"VAULT_S3_REGION" env-default:"us-east-1"`
		Profile   string `yaml:"profile" env:"VAULT_S3_PROFILE"`
		CanDelete bool   `yaml:"can_delete" env:"VAULT_S3_CAN_DELETE" env-default:"true"`
		CanTrash  bool   `yaml:"can_trash" env:"VAULT_S3_CAN_TRASH" env-default:"true"`

		// TrashPrefix receives trashed objects; recoverable by hand.
		TrashPrefix string `yaml:"trash_prefix" env:"VAULT_S3_TRASH_PREFIX" env-default:".trash/"`
	}

	Driver struct {
		ctx    context.Context
		client *s3.Client
		config Config
	}
)

// New constructs an S3-backed vault driver using the default AWS
// credential chain (optionally pinned to a shared config profile). The
// provided context bounds every request the driver makes.
func New(ctx context.Context, config Config) (*Driver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(config.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Driver{ctx: ctx, client: s3.NewFromConfig(awsCfg), config: config}, nil
}

// ResolveObjectID accepts 's3://bucket/key' URLs, virtual-hosted or
// path-style 'https://' S3 URLs, or a bare key. URLs naming a different
// bucket resolve to nothing.
func (driver *Driver) ResolveObjectID(reference string) string {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return ""
	}

	if strings.HasPrefix(ref, "s3://") {
		rest := strings.TrimPrefix(ref, "s3://")
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket != driver.config.Bucket || key == "" {
			return ""
		}

		return key
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		parsed, err := url.Parse(ref)
		if err != nil {
			return ""
		}

		key := strings.TrimPrefix(parsed.Path, "/")
		if strings.HasPrefix(parsed.Host, driver.config.Bucket+".") {
			return key
		}

		// Path-style: first path segment is the bucket.
		bucket, rest, found := strings.Cut(key, "/")
		if found && bucket == driver.config.Bucket {
			return rest
		}

		return ""
	}

	return ref
}

// EnsureContainer returns the key prefix for the named child container.
// S3 namespaces are flat, so there is nothing to create.
func (driver *Driver) EnsureContainer(parentID string, name string) (string, error) {
	return parentID + name + "/", nil
}

func (driver *Driver) ListNames(containerID string, prefix string) ([]string, error) {
	names := make([]string, 0)

	var continuation *string
	for {
		page, err := driver.client.ListObjectsV2(driver.ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(driver.config.Bucket),
			Prefix:            aws.String(containerID + prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects below '%s': %w", containerID, err)
		}

		for _, object := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(object.Key), containerID)
			if name == "" || strings.Contains(name, "/") {
				continue
			}

			names = append(names, name)
		}

		if page.NextContinuationToken == nil {
			break
		}
		continuation = page.NextContinuationToken
	}

	return names, nil
}

func (driver *Driver) Download(objectID string) (*vault.Object, error) {
	output, err := driver.client.GetObject(driver.ctx, &s3.GetObjectInput{
		Bucket: aws.String(driver.config.Bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object '%s': %w", objectID, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s' body: %w", objectID, err)
	}

	name := objectID
	if idx := strings.LastIndex(objectID, "/"); idx >= 0 {
		name = objectID[idx+1:]
	}

	mimeType := aws.ToString(output.ContentType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &vault.Object{ID: objectID, Name: name, MimeType: mimeType, Data: data}, nil
}

func (driver *Driver) Upload(containerID string, name string, data []byte, mimeType string) (string, error) {
	key := containerID + name
	_, err := driver.client.PutObject(driver.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(driver.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object '%s': %w", key, err)
	}

	return key, nil
}

func (driver *Driver) Capabilities(objectID string) (vault.Capabilities, error) {
	return vault.Capabilities{CanDelete: driver.config.CanDelete, CanTrash: driver.config.CanTrash}, nil
}

func (driver *Driver) HardDelete(objectID string) error {
	_, err := driver.client.DeleteObject(driver.ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(driver.config.Bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectID, err)
	}

	return nil
}

func (driver *Driver) Trash(objectID string) error {
	return driver.relocate(objectID, driver.config.TrashPrefix+objectID)
}

func (driver *Driver) Parents(objectID string) ([]string, error) {
	if idx := strings.LastIndex(objectID, "/"); idx >= 0 {
		return []string{objectID[:idx+1]}, nil
	}

	return []string{vault.RootContainer}, nil
}

func (driver *Driver) Move(objectID string, _ []string, addParent string) error {
	name := objectID
	if idx := strings.LastIndex(objectID, "/"); idx >= 0 {
		name = objectID[idx+1:]
	}

	return driver.relocate(objectID, addParent+name)
}

// relocate copies the object to the destination key and deletes the
// original. Not atomic; a failure between the two calls leaves the copy in
// place, which is safe as the pipeline only relocates objects whose
// archival copy is already confirmed.
func (driver *Driver) relocate(objectID string, destKey string) error {
	_, err := driver.client.CopyObject(driver.ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(driver.config.Bucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(url.PathEscape(driver.config.Bucket + "/" + objectID)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy object '%s' to '%s': %w", objectID, destKey, err)
	}

	if err := driver.HardDelete(objectID); err != nil {
		return fmt.Errorf("copied object '%s' but failed to remove the original: %w", objectID, err)
	}

	return nil
}
