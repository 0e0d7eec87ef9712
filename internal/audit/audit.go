// Package audit persists terminal task records for later inspection,
// modeled directly on the teacher's internal/compile/store.go Save/Load
// upsert-by-id pattern, repurposed from compile jobs to parse tasks.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tiangong-mineru/orchestrator/internal/database"
)

// Record is the Mongo representation of one task's terminal state.
type Record struct {
	TaskID      string    `bson:"taskId" json:"taskId"`
	Kind        string    `bson:"kind" json:"kind"`
	Priority    string    `bson:"priority" json:"priority"`
	State       string    `bson:"state" json:"state"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
	Error       string    `bson:"error,omitempty" json:"error,omitempty"`
	MinioBucket string    `bson:"minioBucket,omitempty" json:"minioBucket,omitempty"`
	MinioPrefix string    `bson:"minioPrefix,omitempty" json:"minioPrefix,omitempty"`
}

const collectionName = "task_audit"

// Save persists (upsert) a task record. If mongoURI is empty, Save is a
// no-op: the audit ledger is an optional ambient concern, never a
// dependency of the core pipeline.
func Save(ctx context.Context, mongoURI, databaseName string, rec *Record) error {
	if mongoURI == "" {
		return nil
	}
	client, err := database.ConnectMongo(ctx, mongoURI, 5*time.Second)
	if err != nil {
		return fmt.Errorf("audit: connect mongo: %w", err)
	}
	defer client.Disconnect(ctx)

	col := client.Database(databaseName).Collection(collectionName)
	filter := bson.M{"taskId": rec.TaskID}
	opts := options.Update().SetUpsert(true)
	if _, err := col.UpdateOne(ctx, filter, bson.M{"$set": rec}, opts); err != nil {
		return fmt.Errorf("audit: save task record: %w", err)
	}
	return nil
}

// Load fetches a persisted task record by id. Returns nil, nil when absent.
func Load(ctx context.Context, mongoURI, databaseName, taskID string) (*Record, error) {
	if mongoURI == "" {
		return nil, nil
	}
	client, err := database.ConnectMongo(ctx, mongoURI, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("audit: connect mongo: %w", err)
	}
	defer client.Disconnect(ctx)

	col := client.Database(databaseName).Collection(collectionName)
	var rec Record
	if err := col.FindOne(ctx, bson.M{"taskId": taskID}).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: load task record: %w", err)
	}
	return &rec, nil
}
