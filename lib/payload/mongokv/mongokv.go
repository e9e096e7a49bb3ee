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

// Package mongokv stores payloads in the service database itself, in a
// collection separate from the metadata records. Useful when no
// external secret store is available.
package mongokv

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "mongodb"

// collectionName holds the payload documents, keyed by secret_id.
const collectionName = "secret_data"

func init() {
	payload.Register(BackendName, New)
}

type record struct {
	SecretID string `bson:"secret_id"`
	Data     []byte `bson:"data"`
}

// Store implements [payload.Store] over a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to the metadata database and ensures the unique index on
// the payload key.
func New(ctx context.Context, cfg payload.Config) (payload.Store, error) {
	if cfg.DatabaseURI == "" {
		return nil, trace.BadParameter("mongodb backend requires a database URI")
	}
	dbName := cfg.DatabaseName
	if dbName == "" {
		dbName = defaults.DatabaseName
	}
	connectCtx, cancel := context.WithTimeout(ctx, defaults.DialTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.DatabaseURI))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to mongodb")
	}
	coll := client.Database(dbName).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "secret_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, trace.ConnectionProblem(err, "creating payload index")
	}
	return &Store{client: client, coll: coll}, nil
}

// Put implements [payload.Store]. It fails with an already exists error
// when the id is taken.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.coll.InsertOne(ctx, record{SecretID: id, Data: data})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return trace.AlreadyExists("payload %q already exists", id)
		}
		return trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return nil
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"secret_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, trace.NotFound("payload %q not found", id)
		}
		return nil, trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return rec.Data, nil
}

// Update implements [payload.Store].
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"secret_id": id},
		bson.M{"$set": bson.M{"data": data}})
	if err != nil {
		return trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("payload %q not found", id)
	}
	return nil
}

// Delete implements [payload.Store]. Deleting a missing entry is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"secret_id": id})
	if err != nil {
		return trace.ConnectionProblem(err, "mongodb is unavailable")
	}
	return nil
}

// Close implements [payload.Store].
func (s *Store) Close() error {
	return trace.Wrap(s.client.Disconnect(context.Background()))
}
