// Package pricecache stores daily price history in MongoDB so repeated batch
// runs within the same day reuse upstream responses instead of refetching.
package pricecache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"watchlist_backend/models"
	"watchlist_backend/services/volatility"
)

const (
	databaseName      = "watchlist"
	historyCollection = "price_history"
)

// historyDoc is one cached history series, keyed by region and symbol.
// Daily bars only change once per trading day, so freshness is a
// calendar-date comparison on updated_at.
type historyDoc struct {
	ID        string    `bson:"_id"` // "<region>:<symbol>"
	Symbol    string    `bson:"symbol"`
	Region    string    `bson:"region"`
	UpdatedAt time.Time `bson:"updated_at"`
	BarCount  int       `bson:"bar_count"`
	Bars      []barDoc  `bson:"bars"`
}

type barDoc struct {
	Date  time.Time `bson:"date"`
	High  float64   `bson:"high"`
	Low   float64   `bson:"low"`
	Close float64   `bson:"close"`
}

// MongoCache is a MongoDB-backed price history cache. It degrades to a no-op
// when the connection is absent: Get misses, Put drops.
type MongoCache struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	lastError   string
}

// NewMongoCache connects to MongoDB at uri. An empty uri returns a
// disconnected cache rather than an error so the pipeline runs without
// caching in environments that don't configure Mongo.
func NewMongoCache(uri string) *MongoCache {
	c := &MongoCache{}
	if uri == "" {
		c.lastError = "MONGODB_URI not set"
		log.Println("MONGODB_URI not set, price history cache disabled")
		return c
	}
	if err := c.connect(uri); err != nil {
		log.Printf("Price history cache unavailable: %v", err)
	}
	return c
}

func (c *MongoCache) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		c.lastError = fmt.Sprintf("connect: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		c.lastError = fmt.Sprintf("ping: %v", err)
		client.Disconnect(ctx)
		return err
	}

	c.mu.Lock()
	c.client = client
	c.database = client.Database(databaseName)
	c.isConnected = true
	c.lastError = ""
	c.mu.Unlock()

	c.createIndexes()

	log.Println("Price history cache connected to MongoDB")
	return nil
}

func (c *MongoCache) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.database.Collection(historyCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
}

// IsConfigured reports whether the cache has a live connection
func (c *MongoCache) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// ConnectionStatus returns connection details for health reporting
func (c *MongoCache) ConnectionStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := map[string]interface{}{
		"connected": c.isConnected,
	}
	if c.lastError != "" {
		status["error"] = c.lastError
	}
	return status
}

// Close disconnects the underlying client
func (c *MongoCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.isConnected = false
	return c.client.Disconnect(ctx)
}

func docID(symbol string, region models.Region) string {
	return fmt.Sprintf("%s:%s", region, symbol)
}

// GetHistory returns cached bars for symbol when the entry was written today
// and carries at least minBars bars. Any miss, staleness or decode problem
// reports a cache miss.
func (c *MongoCache) GetHistory(ctx context.Context, symbol string, region models.Region, minBars int) ([]volatility.Bar, bool) {
	if !c.IsConfigured() {
		return nil, false
	}

	var doc historyDoc
	err := c.database.Collection(historyCollection).
		FindOne(ctx, bson.M{"_id": docID(symbol, region)}).
		Decode(&doc)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			log.Printf("Price cache read failed for %s: %v", symbol, err)
		}
		return nil, false
	}

	if !sameDay(doc.UpdatedAt, time.Now()) || len(doc.Bars) < minBars {
		return nil, false
	}

	bars := make([]volatility.Bar, len(doc.Bars))
	for i, b := range doc.Bars {
		bars[i] = volatility.Bar{Date: b.Date, High: b.High, Low: b.Low, Close: b.Close}
	}
	return bars, true
}

// PutHistory upserts the full bar series for symbol. Failures are logged and
// swallowed; caching never fails a batch run.
func (c *MongoCache) PutHistory(ctx context.Context, symbol string, region models.Region, bars []volatility.Bar) {
	if !c.IsConfigured() || len(bars) == 0 {
		return
	}

	docBars := make([]barDoc, len(bars))
	for i, b := range bars {
		docBars[i] = barDoc{Date: b.Date, High: b.High, Low: b.Low, Close: b.Close}
	}
	doc := historyDoc{
		ID:        docID(symbol, region),
		Symbol:    symbol,
		Region:    string(region),
		UpdatedAt: time.Now(),
		BarCount:  len(bars),
		Bars:      docBars,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := c.database.Collection(historyCollection).
		ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		log.Printf("Price cache write failed for %s: %v", symbol, err)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
