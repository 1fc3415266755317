package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nfc-rfml/dataset"
	"nfc-rfml/models"
)

const (
	runsCollection     = "runs"
	examplesCollection = "examples"
	insertBatchSize    = 1000
)

// MongoClient stores runs in a "runs" collection and their examples in an
// "examples" collection. A run document is written only after all of its
// examples, so listings never include a partially written run.
type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

type exampleDocument struct {
	RunID     string    `bson:"runId"`
	Partition string    `bson:"partition"`
	Position  int       `bson:"position"`
	Index     int       `bson:"index"`
	Label     int       `bson:"label"`
	Features  []float32 `bson:"features"`
}

func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	_, err = db.Collection(examplesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "runId", Value: 1}, {Key: "partition", Value: 1}, {Key: "position", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error creating examples index: %w", err)
	}

	return &MongoClient{client: client, db: db}, nil
}

func (db *MongoClient) Close() error {
	if db.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.client.Disconnect(ctx)
	}
	return nil
}

func (db *MongoClient) SaveRun(ctx context.Context, manifest models.RunManifest, split *dataset.Split) (string, error) {
	if manifest.ID == "" {
		manifest.ID = NewRunID()
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	examples := db.db.Collection(examplesCollection)
	batch := make([]interface{}, 0, insertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := examples.InsertMany(ctx, batch)
		batch = batch[:0]
		return err
	}

	for _, ex := range flatten(split) {
		batch = append(batch, exampleDocument{
			RunID:     manifest.ID,
			Partition: ex.Partition,
			Position:  ex.Position,
			Index:     ex.Index,
			Label:     ex.Label,
			Features:  ex.Features,
		})
		if len(batch) == insertBatchSize {
			if err := flush(); err != nil {
				db.discard(manifest.ID)
				return "", fmt.Errorf("error inserting examples: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		db.discard(manifest.ID)
		return "", fmt.Errorf("error inserting examples: %w", err)
	}

	if _, err := db.db.Collection(runsCollection).InsertOne(ctx, manifest); err != nil {
		db.discard(manifest.ID)
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("run %s already exists: %w", manifest.ID, err)
		}
		return "", fmt.Errorf("error inserting run: %w", err)
	}
	return manifest.ID, nil
}

// discard removes the examples of a run whose save failed. It uses its own
// context so that a cancelled save still cleans up.
func (db *MongoClient) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db.db.Collection(examplesCollection).DeleteMany(ctx, bson.M{"runId": id})
}

// DeleteRun removes the run document first so the run leaves listings before
// its examples are dropped.
func (db *MongoClient) DeleteRun(ctx context.Context, id string) error {
	res, err := db.db.Collection(runsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if _, err := db.db.Collection(examplesCollection).DeleteMany(ctx, bson.M{"runId": id}); err != nil {
		return fmt.Errorf("failed to delete examples: %w", err)
	}
	return nil
}

func (db *MongoClient) ListRuns(ctx context.Context) ([]models.RunManifest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := db.db.Collection(runsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []models.RunManifest
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("error decoding runs: %w", err)
	}
	return runs, nil
}

func (db *MongoClient) LoadRun(ctx context.Context, id string) (models.RunManifest, *dataset.Split, error) {
	var manifest models.RunManifest
	err := db.db.Collection(runsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&manifest)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RunManifest{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return models.RunManifest{}, nil, fmt.Errorf("failed to retrieve run: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "partition", Value: 1}, {Key: "position", Value: 1}})
	cursor, err := db.db.Collection(examplesCollection).Find(ctx, bson.M{"runId": id}, opts)
	if err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error querying examples: %w", err)
	}
	defer cursor.Close(ctx)

	var examples []example
	for cursor.Next(ctx) {
		var doc exampleDocument
		if err := cursor.Decode(&doc); err != nil {
			return models.RunManifest{}, nil, fmt.Errorf("error decoding example: %w", err)
		}
		examples = append(examples, example{
			Partition: doc.Partition,
			Position:  doc.Position,
			Index:     doc.Index,
			Label:     doc.Label,
			Features:  doc.Features,
		})
	}
	if err := cursor.Err(); err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error reading examples: %w", err)
	}

	split, err := rebuild(manifest, examples)
	if err != nil {
		return models.RunManifest{}, nil, err
	}
	return manifest, split, nil
}
