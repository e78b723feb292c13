package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDatabaseName     = "stock_backend"
	mongoRecordCollection = "stock_records"
	mongoConnectTimeout   = 30 * time.Second
)

// MongoArchive mirrors refreshed detail records to MongoDB Atlas. It is
// entirely optional: without a URI the service runs local-only and every
// archive call is a no-op error the callers log and move past.
type MongoArchive struct {
	mu        sync.RWMutex
	client    *mongo.Client
	database  *mongo.Database
	connected bool
	lastError string
	uri       string
}

// NewMongoArchive prepares an archive for the given URI. An empty URI is
// allowed; Connect will report it as unconfigured.
func NewMongoArchive(uri string) *MongoArchive {
	return &MongoArchive{uri: uri}
}

// Connect establishes the Atlas connection and verifies it with a ping.
func (m *MongoArchive) Connect(ctx context.Context) error {
	if m.uri == "" {
		m.setError("MongoDB URI not set")
		return fmt.Errorf("mongo archive: URI not set")
	}

	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(m.uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.setError(fmt.Sprintf("connect failed: %v", err))
		return fmt.Errorf("mongo archive connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		m.setError(fmt.Sprintf("ping failed: %v", err))
		return fmt.Errorf("mongo archive ping: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(mongoDatabaseName)
	m.connected = true
	m.lastError = ""
	m.mu.Unlock()

	log.Println("Mongo archive connected")
	return nil
}

func (m *MongoArchive) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// IsConfigured reports whether a usable connection exists.
func (m *MongoArchive) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.client != nil
}

// Status exposes connection state for the admin API.
func (m *MongoArchive) Status() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"uri_set":    m.uri != "",
		"connected":  m.connected,
		"last_error": m.lastError,
	}
}

// Close disconnects from Atlas.
func (m *MongoArchive) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.connected = false
	return err
}

type mongoRecordDoc struct {
	Ticker    string       `bson:"_id"`
	UpdatedAt time.Time    `bson:"updated_at"`
	Record    *StockRecord `bson:"record"`
}

// ArchiveRecords upserts one document per ticker. Individual failures are
// collected; the batch continues.
func (m *MongoArchive) ArchiveRecords(ctx context.Context, records []*StockRecord) error {
	if !m.IsConfigured() {
		return fmt.Errorf("mongo archive not configured")
	}

	collection := m.database.Collection(mongoRecordCollection)
	opts := options.Replace().SetUpsert(true)
	now := time.Now()

	var failed int
	for _, record := range records {
		if record == nil {
			continue
		}
		doc := mongoRecordDoc{Ticker: record.Ticker, UpdatedAt: now, Record: record}
		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := collection.ReplaceOne(opCtx, bson.M{"_id": record.Ticker}, doc, opts)
		cancel()
		if err != nil {
			failed++
			log.Printf("Archiving %s failed: %v", record.Ticker, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("archived with %d failures out of %d records", failed, len(records))
	}
	return nil
}

// LoadRecord returns the archived record for one ticker.
func (m *MongoArchive) LoadRecord(ctx context.Context, ticker string) (*StockRecord, error) {
	if !m.IsConfigured() {
		return nil, fmt.Errorf("mongo archive not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var doc mongoRecordDoc
	err := m.database.Collection(mongoRecordCollection).
		FindOne(ctx, bson.M{"_id": ticker}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("archived record for %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load archived record for %s: %w", ticker, err)
	}
	return doc.Record, nil
}
