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

package identity

import (
	"context"

	"github.com/gravitational/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The identity API exchanges loosely-typed documents, so requests and
// responses go over the wire as struct messages instead of generated
// stubs.
const (
	methodGetServiceAccount = "/identity.v1.ServiceAccount/Get"
	methodGetProject        = "/identity.v1.Project/Get"
	methodCheckWorkspace    = "/identity.v1.Workspace/Check"
	methodGetTrustedAccount = "/identity.v1.TrustedAccount/Get"
)

// GRPCConfig holds what the gRPC client needs.
type GRPCConfig struct {
	// Endpoint is the host:port of the identity service.
	Endpoint string
	// SystemToken authenticates privileged lookups not tied to a caller.
	SystemToken string
}

// CheckAndSetDefaults validates the configuration.
func (c *GRPCConfig) CheckAndSetDefaults() error {
	if c.Endpoint == "" {
		return trace.BadParameter("missing identity endpoint")
	}
	if c.SystemToken == "" {
		return trace.BadParameter("missing system token")
	}
	return nil
}

// GRPCClient implements [Client] over a gRPC connection.
type GRPCClient struct {
	conn        *grpc.ClientConn
	systemToken string
}

// NewGRPCClient dials the identity service. The connection is lazy, so
// failures surface on the first call.
func NewGRPCClient(cfg GRPCConfig) (*GRPCClient, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	conn, err := grpc.NewClient(cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to the identity service")
	}
	return &GRPCClient{conn: conn, systemToken: cfg.SystemToken}, nil
}

// GetServiceAccount implements [Client], under the caller's token.
func (c *GRPCClient) GetServiceAccount(ctx context.Context, serviceAccountID, domainID string) (*ServiceAccount, error) {
	resp, err := c.invoke(ctx, methodGetServiceAccount, c.callerToken(ctx), map[string]any{
		"service_account_id": serviceAccountID,
		"domain_id":          domainID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &ServiceAccount{
		ServiceAccountID: stringField(resp, "service_account_id"),
		Provider:         stringField(resp, "provider"),
		ProjectID:        stringField(resp, "project_id"),
		WorkspaceID:      stringField(resp, "workspace_id"),
		DomainID:         stringField(resp, "domain_id"),
	}, nil
}

// GetProject implements [Client], under the caller's token.
func (c *GRPCClient) GetProject(ctx context.Context, projectID, domainID string) (*Project, error) {
	resp, err := c.invoke(ctx, methodGetProject, c.callerToken(ctx), map[string]any{
		"project_id": projectID,
		"domain_id":  domainID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Project{
		ProjectID:   stringField(resp, "project_id"),
		WorkspaceID: stringField(resp, "workspace_id"),
		DomainID:    stringField(resp, "domain_id"),
	}, nil
}

// CheckWorkspace implements [Client], under the system token.
func (c *GRPCClient) CheckWorkspace(ctx context.Context, workspaceID, domainID string) error {
	_, err := c.invoke(ctx, methodCheckWorkspace, c.systemToken, map[string]any{
		"workspace_id": workspaceID,
		"domain_id":    domainID,
	})
	return trace.Wrap(err)
}

// GetTrustedAccount implements [Client], under the system token.
func (c *GRPCClient) GetTrustedAccount(ctx context.Context, trustedAccountID, domainID string) (*TrustedAccount, error) {
	resp, err := c.invoke(ctx, methodGetTrustedAccount, c.systemToken, map[string]any{
		"trusted_account_id": trustedAccountID,
		"domain_id":          domainID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &TrustedAccount{
		TrustedAccountID: stringField(resp, "trusted_account_id"),
		Provider:         stringField(resp, "provider"),
		ResourceGroup:    stringField(resp, "resource_group"),
		WorkspaceID:      stringField(resp, "workspace_id"),
	}, nil
}

// Close implements [Client].
func (c *GRPCClient) Close() error {
	return trace.Wrap(c.conn.Close())
}

func (c *GRPCClient) callerToken(ctx context.Context) string {
	if token, ok := TokenFromContext(ctx); ok {
		return token
	}
	return c.systemToken
}

func (c *GRPCClient) invoke(ctx context.Context, method, token string, params map[string]any) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "token", token)
	response := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, request, response); err != nil {
		return nil, convertGRPCError(err)
	}
	return response, nil
}

func convertGRPCError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return trace.NotFound("identity record not found")
	case codes.PermissionDenied, codes.Unauthenticated:
		return trace.AccessDenied("identity service denied the request")
	case codes.InvalidArgument:
		return trace.BadParameter("identity service rejected the request: %v", err)
	}
	return trace.ConnectionProblem(err, "identity service is unavailable")
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}
