/*
 * Stronghold
 * Copyright (C) 2023  Stronghold Security, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package kms

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/config"
	"github.com/stronghold-sec/stronghold/lib/observability/metrics"
)

// Connector parameter keys understood by the AWS KMS provider.
const (
	paramRegion    = "region"
	paramEndpoint  = "endpoint"
	paramAccessKey = "aws_access_key_id"
	paramSecretKey = "aws_secret_access_key"
	paramKMSKeyID  = "kms_key_id"
)

func init() {
	RegisterProvider(types.EncryptTypeAWSKMS, newAWSKMS)
}

// awsKMS generates AES-256 data keys under a customer master key.
type awsKMS struct {
	client *awskms.Client
	keyID  string
}

func newAWSKMS(ctx context.Context, params config.Params) (KeyManager, error) {
	region := params.GetString(paramRegion)
	keyID := params.GetString(paramKMSKeyID)
	if region == "" || keyID == "" {
		return nil, trace.BadParameter("AWS KMS connector requires %q and %q", paramRegion, paramKMSKeyID)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if ak, sk := params.GetString(paramAccessKey), params.GetString(paramSecretKey); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err, "loading AWS configuration")
	}

	client := awskms.NewFromConfig(cfg, func(o *awskms.Options) {
		if endpoint := params.GetString(paramEndpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &awsKMS{client: client, keyID: keyID}, nil
}

// GenerateDataKey implements [KeyManager].
func (a *awsKMS) GenerateDataKey(ctx context.Context, encryptionContext map[string]string) (plaintext, wrapped []byte, err error) {
	out, err := a.client.GenerateDataKey(ctx, &awskms.GenerateDataKeyInput{
		KeyId:             aws.String(a.keyID),
		KeySpec:           kmstypes.DataKeySpecAes256,
		EncryptionContext: encryptionContext,
	})
	metrics.ObserveKMS(types.EncryptTypeAWSKMS, "generate_data_key", err)
	if err != nil {
		return nil, nil, convertKMSError(err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

// DecryptDataKey implements [KeyManager].
func (a *awsKMS) DecryptDataKey(ctx context.Context, wrapped []byte, encryptionContext map[string]string) ([]byte, error) {
	out, err := a.client.Decrypt(ctx, &awskms.DecryptInput{
		CiphertextBlob:    wrapped,
		KeyId:             aws.String(a.keyID),
		EncryptionContext: encryptionContext,
	})
	metrics.ObserveKMS(types.EncryptTypeAWSKMS, "decrypt_data_key", err)
	if err != nil {
		return nil, convertKMSError(err)
	}
	return out.Plaintext, nil
}

// Close implements [KeyManager].
func (a *awsKMS) Close() error { return nil }

func convertKMSError(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound   *kmstypes.NotFoundException
		badCipher  *kmstypes.InvalidCiphertextException
		disabled   *kmstypes.DisabledException
		kmsInvalid *kmstypes.KMSInvalidStateException
		internal   *kmstypes.KMSInternalException
	)
	switch {
	case errors.As(err, &notFound):
		return trace.NotFound("KMS key not found: %v", err)
	case errors.As(err, &badCipher):
		// Also raised when the encryption context does not match the
		// one the key was wrapped under.
		return trace.BadParameter("KMS refused the ciphertext or encryption context: %v", err)
	case errors.As(err, &disabled), errors.As(err, &kmsInvalid):
		return trace.AccessDenied("KMS key is not usable: %v", err)
	case errors.As(err, &internal):
		return trace.ConnectionProblem(err, "KMS is unavailable")
	}
	return trace.ConnectionProblem(err, "KMS request failed")
}
