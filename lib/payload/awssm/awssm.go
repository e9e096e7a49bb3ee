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

// Package awssm stores payloads in AWS Secrets Manager. Put is
// create-or-fail and Delete is a hard delete without a recovery window.
package awssm

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "aws-secretsmanager"

const (
	paramRegion    = "region"
	paramEndpoint  = "endpoint"
	paramAccessKey = "aws_access_key_id"
	paramSecretKey = "aws_secret_access_key"
)

func init() {
	payload.Register(BackendName, New)
}

// Store implements [payload.Store] over AWS Secrets Manager.
type Store struct {
	client *secretsmanager.Client
}

// New builds the store from its connector parameters.
func New(ctx context.Context, cfg payload.Config) (payload.Store, error) {
	region := cfg.Params.GetString(paramRegion)
	if region == "" {
		return nil, trace.BadParameter("AWS Secrets Manager connector requires %q", paramRegion)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if ak, sk := cfg.Params.GetString(paramAccessKey), cfg.Params.GetString(paramSecretKey); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err, "loading AWS configuration")
	}
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint := cfg.Params.GetString(paramEndpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Store{client: client}, nil
}

// Put implements [payload.Store]. It fails with an already exists error
// when the id is taken.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(id),
		SecretString: aws.String(string(data)),
	})
	return convertError(err, id)
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return nil, convertError(err, id)
	}
	if out.SecretString == nil {
		return nil, trace.NotFound("payload %q has no string value", id)
	}
	return []byte(*out.SecretString), nil
}

// Update implements [payload.Store].
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(id),
		SecretString: aws.String(string(data)),
	})
	return convertError(err, id)
}

// Delete implements [payload.Store]. The entry is destroyed
// immediately, skipping the Secrets Manager recovery window.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(id),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	return convertError(err, id)
}

// Close implements [payload.Store].
func (s *Store) Close() error { return nil }

func convertError(err error, id string) error {
	if err == nil {
		return nil
	}
	var (
		exists   *smtypes.ResourceExistsException
		notFound *smtypes.ResourceNotFoundException
		invalid  *smtypes.InvalidRequestException
	)
	switch {
	case errors.As(err, &exists):
		return trace.AlreadyExists("payload %q already exists", id)
	case errors.As(err, &notFound):
		return trace.NotFound("payload %q not found", id)
	case errors.As(err, &invalid):
		return trace.BadParameter("secrets manager rejected the request: %v", err)
	}
	return trace.ConnectionProblem(err, "secrets manager is unavailable")
}
