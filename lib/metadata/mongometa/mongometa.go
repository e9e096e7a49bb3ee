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

// Package mongometa implements the metadata record stores on MongoDB.
// Each record kind lives in its own collection; indexes are created at
// startup and name uniqueness is enforced per domain by a unique
// compound index.
package mongometa

import (
	"context"
	"errors"
	"regexp"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

const (
	secretCollection        = "secret"
	trustedSecretCollection = "trusted_secret"
	userSecretCollection    = "user_secret"
)

// Config holds the database connection parameters.
type Config struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the database name, defaulting to the service default.
	Database string
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("missing database URI")
	}
	if c.Database == "" {
		c.Database = defaults.DatabaseName
	}
	return nil
}

// Backend owns the client and exposes the typed record stores.
type Backend struct {
	client *mongo.Client

	// Stores are ready to use once New returns.
	Stores metadata.Stores
}

// New connects and bootstraps the collections and their indexes.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, defaults.DialTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to mongodb")
	}
	db := client.Database(cfg.Database)

	secrets := &collection[types.Secret]{
		coll:    db.Collection(secretCollection),
		idField: "secret_id",
		keywordFields: []string{
			"secret_id", "name", "schema_id", "provider",
		},
		indexFields: []string{
			"secret_id", "name", "schema_id", "provider",
			"trusted_secret_id", "service_account_id",
			"resource_group", "project_id", "workspace_id", "domain_id",
		},
	}
	trusted := &collection[types.TrustedSecret]{
		coll:    db.Collection(trustedSecretCollection),
		idField: "trusted_secret_id",
		keywordFields: []string{
			"trusted_secret_id", "name", "schema_id", "provider",
		},
		indexFields: []string{
			"trusted_secret_id", "name", "schema_id", "provider",
			"trusted_account_id", "resource_group", "workspace_id", "domain_id",
		},
	}
	users := &collection[types.UserSecret]{
		coll:    db.Collection(userSecretCollection),
		idField: "user_secret_id",
		keywordFields: []string{
			"user_secret_id", "name", "schema_id", "provider",
		},
		indexFields: []string{
			"user_secret_id", "name", "schema_id", "provider",
			"user_id", "domain_id",
		},
	}
	for _, c := range []interface{ ensureIndexes(context.Context) error }{secrets, trusted, users} {
		if err := c.ensureIndexes(connectCtx); err != nil {
			client.Disconnect(context.Background())
			return nil, trace.Wrap(err)
		}
	}
	return &Backend{
		client: client,
		Stores: metadata.Stores{
			Secrets:        &secretsStore{c: secrets},
			TrustedSecrets: &trustedSecretsStore{c: trusted},
			UserSecrets:    &userSecretsStore{c: users},
		},
	}, nil
}

// Close disconnects the client.
func (b *Backend) Close(ctx context.Context) error {
	return trace.Wrap(b.client.Disconnect(ctx))
}

// collection wraps one MongoDB collection with the shared record-store
// mechanics. T is the record type with bson tags matching the wire
// field names.
type collection[T any] struct {
	coll          *mongo.Collection
	idField       string
	keywordFields []string
	indexFields   []string
}

func (c *collection[T]) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{{
		// Name uniqueness is enforced per domain.
		Keys:    bson.D{{Key: "domain_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	for _, field := range c.indexFields {
		unique := field == c.idField
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(unique),
		})
	}
	if _, err := c.coll.Indexes().CreateMany(ctx, models); err != nil {
		return trace.ConnectionProblem(err, "creating indexes on %v", c.coll.Name())
	}
	return nil
}

func (c *collection[T]) create(ctx context.Context, record *T) error {
	if _, err := c.coll.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return trace.AlreadyExists("a record with the same name already exists in the domain")
		}
		return trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return nil
}

func (c *collection[T]) get(ctx context.Context, id string, scope metadata.Filter) (*T, error) {
	var record T
	err := c.coll.FindOne(ctx, c.match(id, scope)).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, trace.NotFound("%v %q not found", c.coll.Name(), id)
		}
		return nil, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return &record, nil
}

func (c *collection[T]) update(ctx context.Context, id string, scope metadata.Filter, set bson.M) (*T, error) {
	if len(set) == 0 {
		return c.get(ctx, id, scope)
	}
	var record T
	err := c.coll.FindOneAndUpdate(ctx,
		c.match(id, scope),
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, trace.NotFound("%v %q not found", c.coll.Name(), id)
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, trace.AlreadyExists("a record with the same name already exists in the domain")
		}
		return nil, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return &record, nil
}

func (c *collection[T]) delete(ctx context.Context, id string, scope metadata.Filter) error {
	res, err := c.coll.DeleteOne(ctx, c.match(id, scope))
	if err != nil {
		return trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	if res.DeletedCount == 0 {
		return trace.NotFound("%v %q not found", c.coll.Name(), id)
	}
	return nil
}

func (c *collection[T]) query(ctx context.Context, q metadata.Query) ([]*T, int64, error) {
	filter := c.buildFilter(q.Filter, q.Keyword)
	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, trace.ConnectionProblem(err, "mongodb is unavailable")
	}

	findOpts := options.Find().
		SetSkip(int64(q.Page.Start)).
		SetLimit(int64(pageLimit(q.Page))).
		SetSort(sortSpec(q.Sort))
	cursor, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	defer cursor.Close(ctx)

	var records []*T
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return records, total, nil
}

func (c *collection[T]) stat(ctx context.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	filter := c.buildFilter(q.Filter, "")
	result := &metadata.StatResult{}
	if q.Distinct != "" {
		values, err := c.coll.Distinct(ctx, q.Distinct, filter)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "mongodb is unavailable")
		}
		result.Values = values
		result.TotalCount = int64(len(values))
		return result, nil
	}
	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	result.TotalCount = total
	return result, nil
}

func (c *collection[T]) match(id string, scope metadata.Filter) bson.M {
	filter := c.buildFilter(scope, "")
	filter[c.idField] = id
	return filter
}

func (c *collection[T]) buildFilter(f metadata.Filter, keyword string) bson.M {
	filter := bson.M{}
	for key, value := range f {
		switch v := value.(type) {
		case []string:
			filter[key] = bson.M{"$in": v}
		default:
			filter[key] = v
		}
	}
	if keyword != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}
		var or bson.A
		for _, field := range c.keywordFields {
			or = append(or, bson.M{field: pattern})
		}
		filter["$or"] = or
	}
	return filter
}

func pageLimit(p metadata.Page) int {
	if p.Limit <= 0 {
		return defaults.ListLimit
	}
	return p.Limit
}

func sortSpec(sorts []metadata.Sort) bson.D {
	if len(sorts) == 0 {
		return bson.D{{Key: "created_at", Value: -1}}
	}
	spec := make(bson.D, 0, len(sorts))
	for _, s := range sorts {
		order := 1
		if s.Desc {
			order = -1
		}
		spec = append(spec, bson.E{Key: s.Key, Value: order})
	}
	return spec
}

// patchSet translates a metadata patch into a $set document.
// allowProject admits project moves for Secret records.
func patchSet(patch metadata.Patch, allowProject bool) bson.M {
	set := bson.M{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Tags != nil {
		set["tags"] = patch.Tags
	}
	if patch.SchemaID != nil {
		set["schema_id"] = *patch.SchemaID
	}
	if patch.Encrypted != nil {
		set["encrypted"] = *patch.Encrypted
	}
	if patch.EncryptOptions != nil {
		set["encrypt_options"] = patch.EncryptOptions
	}
	if allowProject && patch.ProjectID != nil {
		set["project_id"] = *patch.ProjectID
	}
	return set
}

type secretsStore struct {
	c *collection[types.Secret]
}

func (s *secretsStore) Create(ctx context.Context, secret *types.Secret) (*types.Secret, error) {
	if err := s.c.create(ctx, secret); err != nil {
		return nil, trace.Wrap(err)
	}
	return secret, nil
}

func (s *secretsStore) Get(ctx context.Context, secretID string, scope metadata.Filter) (*types.Secret, error) {
	secret, err := s.c.get(ctx, secretID, scope)
	return secret, trace.Wrap(err)
}

func (s *secretsStore) Update(ctx context.Context, secretID string, scope metadata.Filter, patch metadata.Patch) (*types.Secret, error) {
	secret, err := s.c.update(ctx, secretID, scope, patchSet(patch, true))
	return secret, trace.Wrap(err)
}

func (s *secretsStore) Delete(ctx context.Context, secretID string, scope metadata.Filter) error {
	return trace.Wrap(s.c.delete(ctx, secretID, scope))
}

func (s *secretsStore) Query(ctx context.Context, q metadata.Query) ([]*types.Secret, int64, error) {
	records, total, err := s.c.query(ctx, q)
	return records, total, trace.Wrap(err)
}

func (s *secretsStore) Stat(ctx context.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	result, err := s.c.stat(ctx, q)
	return result, trace.Wrap(err)
}

type trustedSecretsStore struct {
	c *collection[types.TrustedSecret]
}

func (s *trustedSecretsStore) Create(ctx context.Context, secret *types.TrustedSecret) (*types.TrustedSecret, error) {
	if err := s.c.create(ctx, secret); err != nil {
		return nil, trace.Wrap(err)
	}
	return secret, nil
}

func (s *trustedSecretsStore) Get(ctx context.Context, trustedSecretID string, scope metadata.Filter) (*types.TrustedSecret, error) {
	secret, err := s.c.get(ctx, trustedSecretID, scope)
	return secret, trace.Wrap(err)
}

func (s *trustedSecretsStore) Update(ctx context.Context, trustedSecretID string, scope metadata.Filter, patch metadata.Patch) (*types.TrustedSecret, error) {
	secret, err := s.c.update(ctx, trustedSecretID, scope, patchSet(patch, false))
	return secret, trace.Wrap(err)
}

func (s *trustedSecretsStore) Delete(ctx context.Context, trustedSecretID string, scope metadata.Filter) error {
	return trace.Wrap(s.c.delete(ctx, trustedSecretID, scope))
}

func (s *trustedSecretsStore) Query(ctx context.Context, q metadata.Query) ([]*types.TrustedSecret, int64, error) {
	records, total, err := s.c.query(ctx, q)
	return records, total, trace.Wrap(err)
}

func (s *trustedSecretsStore) Stat(ctx context.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	result, err := s.c.stat(ctx, q)
	return result, trace.Wrap(err)
}

type userSecretsStore struct {
	c *collection[types.UserSecret]
}

func (s *userSecretsStore) Create(ctx context.Context, secret *types.UserSecret) (*types.UserSecret, error) {
	if err := s.c.create(ctx, secret); err != nil {
		return nil, trace.Wrap(err)
	}
	return secret, nil
}

func (s *userSecretsStore) Get(ctx context.Context, userSecretID string, scope metadata.Filter) (*types.UserSecret, error) {
	secret, err := s.c.get(ctx, userSecretID, scope)
	return secret, trace.Wrap(err)
}

func (s *userSecretsStore) Update(ctx context.Context, userSecretID string, scope metadata.Filter, patch metadata.Patch) (*types.UserSecret, error) {
	secret, err := s.c.update(ctx, userSecretID, scope, patchSet(patch, false))
	return secret, trace.Wrap(err)
}

func (s *userSecretsStore) Delete(ctx context.Context, userSecretID string, scope metadata.Filter) error {
	return trace.Wrap(s.c.delete(ctx, userSecretID, scope))
}

func (s *userSecretsStore) Query(ctx context.Context, q metadata.Query) ([]*types.UserSecret, int64, error) {
	records, total, err := s.c.query(ctx, q)
	return records, total, trace.Wrap(err)
}

func (s *userSecretsStore) Stat(ctx context.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	result, err := s.c.stat(ctx, q)
	return result, trace.Wrap(err)
}
