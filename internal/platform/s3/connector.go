package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/phrazzld/offload/internal/storage"
)

// DefaultRegion is used when an account does not name one
const DefaultRegion = "us-east-1"

func loadOptions(cfg Config) []func(*awsconfig.LoadOptions) error {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	return []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
}

// Connector returns a storage.Connector that opens a Remote for cfg using
// the credential handed to it by the backend
func Connector(cfg Config) storage.Connector {
	return storage.ConnectorFunc(func(ctx context.Context, cred storage.Credential) (storage.Remote, error) {
		opts := append(loadOptions(cfg), awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.ID, cred.Secret, cred.SessionToken),
		))

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, clientOptions(cfg)...)
		return New(client, cfg)
	})
}

func clientOptions(cfg Config) []func(*s3.Options) {
	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for localstack/MinIO
		})
	}
	return opts
}

// Credentials returns the credential source of an account. Configured keys
// never expire; otherwise the default AWS provider chain is asked on every
// refresh and its expiry is carried over.
func Credentials(cfg Config) storage.CredentialSource {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return storage.StaticCredentials(storage.Credential{
			ID:     cfg.AccessKey,
			Secret: cfg.SecretKey,
		})
	}

	return storage.CredentialSourceFunc(func(ctx context.Context) (storage.Credential, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(cfg)...)
		if err != nil {
			return storage.Credential{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if awsCfg.Credentials == nil {
			return storage.Credential{}, fmt.Errorf("%w: no AWS credentials available", ErrInvalidConfig)
		}
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return storage.Credential{}, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
		}
		return fromAWS(creds), nil
	})
}

func fromAWS(c aws.Credentials) storage.Credential {
	cred := storage.Credential{
		ID:           c.AccessKeyID,
		Secret:       c.SecretAccessKey,
		SessionToken: c.SessionToken,
	}
	if c.CanExpire {
		cred.Expiry = c.Expires
	}
	return cred
}
