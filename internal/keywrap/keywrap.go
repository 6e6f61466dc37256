// Package keywrap implements the envelope-encryption key service: per-file
// data keys are wrapped and unwrapped by an external key-management oracle
// holding the master key. The master key never leaves the oracle and the
// unwrapped data key is never persisted or logged.
package keywrap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// ErrKeyService reports that the master-key oracle failed or returned an
// empty result. Callers must treat this as non-retryable within the current
// request and must never fall back to storing an unwrapped key.
var ErrKeyService = errors.New("key service failure")

// Oracle is the minimal surface of the external key-management service.
// Tests substitute a fake; production uses the KMS-backed implementation.
type Oracle interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertextBlob []byte) ([]byte, error)
}

// Service wraps and unwraps data keys under the configured master key.
type Service struct {
	oracle Oracle
	keyID  string
}

func NewService(oracle Oracle, keyID string) *Service {
	return &Service{oracle: oracle, keyID: keyID}
}

// Wrap encrypts a raw data key under the master key and returns the
// base64-encoded ciphertext blob for storage.
func (s *Service) Wrap(ctx context.Context, rawKey []byte) (string, error) {
	if len(rawKey) == 0 {
		return "", fmt.Errorf("%w: empty data key", ErrKeyService)
	}

	blob, err := s.oracle.Encrypt(ctx, s.keyID, rawKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyService, err)
	}
	if len(blob) == 0 {
		return "", fmt.Errorf("%w: oracle returned no ciphertext", ErrKeyService)
	}

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Unwrap decodes a stored wrapped key and decrypts it via the oracle,
// returning the raw data key bytes.
func (s *Service) Unwrap(ctx context.Context, wrapped string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not valid base64", ErrKeyService)
	}

	plaintext, err := s.oracle.Decrypt(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyService, err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: oracle returned no plaintext", ErrKeyService)
	}

	return plaintext, nil
}

// KMSOracle adapts the AWS KMS client to the Oracle interface.
type KMSOracle struct {
	client *kms.Client
}

// KMSConfig holds connection settings for the key-management service.
// BaseEndpoint supports pointing at a local KMS-compatible endpoint
// (e.g. localstack) during development.
type KMSConfig struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

func NewKMSOracle(ctx context.Context, cfg KMSConfig) (*KMSOracle, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load KMS configuration: %w", err)
	}

	client := kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})

	return &KMSOracle{client: client}, nil
}

func (o *KMSOracle) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	out, err := o.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, err
	}
	return out.CiphertextBlob, nil
}

func (o *KMSOracle) Decrypt(ctx context.Context, ciphertextBlob []byte) ([]byte, error) {
	out, err := o.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertextBlob,
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}
