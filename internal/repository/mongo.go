package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoConversations = "conversations"
	mongoUsers         = "users"
	mongoAuditLog      = "audit_log"
)

// ConnectMongo подключается и проверяет соединение
func ConnectMongo(ctx context.Context, uri string, maxPool int) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if maxPool > 0 {
		opts.SetMaxPoolSize(uint64(maxPool))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// EnsureMongoIndexes - аналог Migrate для документного хранилища
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		mongoConversations: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
			{
				// Личный чат для пары участников ровно один
				Keys:    bson.D{{Key: "private_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true).SetName("unique_private_pair"),
			},
		},
		mongoAuditLog: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "event_time", Value: -1}}},
		},
	}

	for name, indexes := range collections {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

func uuidToStr(id uuid.UUID) string { return id.String() }

func strToUUID(s string) uuid.UUID {
	u, _ := uuid.Parse(s)
	return u
}

func uuidsToStrs(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func strsToUUIDs(values []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if id, err := uuid.Parse(v); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func ptrUUIDToStr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func ptrStrToUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
