// Package awsiam implements the CloudIAM port: access-key lifecycle against
// the cloud IAM API, and cloud-role policy reconfiguration against the
// secret store's aws auth mount.
package awsiam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"tvault-control/internal/domain"
)

// IAMAPI is the subset of the IAM client the adapter uses.
type IAMAPI interface {
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
}

// RoleConfigurer reads and reconfigures a bound cloud-IAM role's policy
// set; the secret store's aws auth mount implements it.
type RoleConfigurer interface {
	ReadAWSRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error)
	ConfigureAWSRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error)
}

// Client implements domain.CloudIAM.
type Client struct {
	iam       IAMAPI
	roles     RoleConfigurer
	keyExpiry time.Duration
	logger    *slog.Logger
}

// New creates a Client from explicit credentials and region.
func New(ctx context.Context, region, keyID, secret string, roles RoleConfigurer, keyExpiry time.Duration, logger *slog.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(iam.NewFromConfig(cfg), roles, keyExpiry, logger), nil
}

// NewWithClient creates a Client with a custom IAM client.
func NewWithClient(api IAMAPI, roles RoleConfigurer, keyExpiry time.Duration, logger *slog.Logger) *Client {
	if keyExpiry <= 0 {
		keyExpiry = 90 * 24 * time.Hour
	}
	return &Client{iam: api, roles: roles, keyExpiry: keyExpiry, logger: logger}
}

// CreateKey mints a new access key for the account's IAM user.
func (c *Client) CreateKey(ctx context.Context, accountID, name string) (domain.AccessKey, error) {
	out, err := c.iam.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
		UserName: awsv2.String(name),
	})
	if err != nil {
		return domain.AccessKey{}, fmt.Errorf("create access key for %s/%s: %w", accountID, name, err)
	}
	now := time.Now()
	key := domain.AccessKey{
		AccessKeyID: awsv2.ToString(out.AccessKey.AccessKeyId),
		SecretKey:   awsv2.ToString(out.AccessKey.SecretAccessKey),
		Expiry:      now.Add(c.keyExpiry).UnixMilli(),
		CreatedAt:   now.UnixMilli(),
		Status:      string(out.AccessKey.Status),
	}
	c.logger.Info("minted access key", "account", domain.UniqueName(accountID, name), "accessKeyId", key.AccessKeyID)
	return key, nil
}

// RotateKey replaces the secret material of an existing key. The IAM API
// cannot re-secret a key pair in place, so the replacement is a fresh key
// minted before the old one is deleted; the returned key id supersedes the
// given one.
func (c *Client) RotateKey(ctx context.Context, accountID, name, keyID string) (domain.AccessKey, error) {
	replacement, err := c.CreateKey(ctx, accountID, name)
	if err != nil {
		return domain.AccessKey{}, err
	}
	if _, err := c.iam.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    awsv2.String(name),
		AccessKeyId: awsv2.String(keyID),
	}); err != nil {
		return domain.AccessKey{}, fmt.Errorf("delete superseded key %s for %s/%s: %w", keyID, accountID, name, err)
	}
	return replacement, nil
}

// DeleteKey deactivates and deletes the key at the cloud IAM API. A key
// already absent there counts as deleted.
func (c *Client) DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error) {
	_, err := c.iam.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    awsv2.String(name),
		AccessKeyId: awsv2.String(keyID),
	})
	if err != nil {
		return false, fmt.Errorf("delete access key %s for %s/%s: %w", keyID, accountID, name, err)
	}
	return true, nil
}

// ReadRole returns the policies and recorded auth mechanism of a bound
// cloud-IAM role.
func (c *Client) ReadRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	return c.roles.ReadAWSRole(ctx, role)
}

// ConfigureRole replaces the policy set attached to a cloud-IAM role using
// the role's recorded auth mechanism.
func (c *Client) ConfigureRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	return c.roles.ConfigureAWSRole(ctx, role, policies, authType)
}
