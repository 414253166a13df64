package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/referral/internal/config"
)

// IConfigService defines the interface for accessing runtime configuration.
type IConfigService interface {
	GetAll(ctx context.Context) (map[string]interface{}, error)
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetString(ctx context.Context, key string, defaultValue string) string
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetFloat64(ctx context.Context, key string, defaultValue float64) float64
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
	SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error
}

const (
	configCollection    = "configuration"
	configUpdateChannel = "config_updates"
)

// ConfigKind is the value type of a key admins may override at runtime.
type ConfigKind string

const (
	ConfigInt      ConfigKind = "int"
	ConfigString   ConfigKind = "string"
	ConfigBool     ConfigKind = "bool"
	ConfigDuration ConfigKind = "duration_seconds"
)

// DynamicConfigKeys lists the keys that may be overridden at runtime.
var DynamicConfigKeys = map[string]ConfigKind{
	"MAX_PAYMENT_FAILURES":    ConfigInt,
	"PAYMENT_CURRENCY":        ConfigString,
	"SWEEP_RETIRE_AFTER_DAYS": ConfigInt,
	"APP_NAME":                ConfigString,
	"NOTIFY_ADMINS":           ConfigBool,
	"NOTIFICATION_TIMEOUT":    ConfigDuration,
	"RATE_LIMIT_BUCKET_SIZE":  ConfigInt,
	"RATE_LIMIT_REFILL_RATE":  ConfigInt,
}

// ParseConfigValue validates raw (a decoded JSON value) for key and returns
// the value to store.
func ParseConfigValue(key string, raw interface{}) (interface{}, error) {
	kind, ok := DynamicConfigKeys[key]
	if !ok {
		return nil, NewValidationError("config key %q cannot be changed at runtime", key)
	}
	switch kind {
	case ConfigString:
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, NewValidationError("config key %q expects a non-empty string", key)
		}
		if key == "PAYMENT_CURRENCY" {
			s = strings.ToLower(s)
			if len(s) != 3 {
				return nil, NewValidationError("PAYMENT_CURRENCY must be a three-letter ISO code")
			}
		}
		return s, nil
	case ConfigBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, NewValidationError("config key %q expects a boolean", key)
		}
		return b, nil
	default:
		var n int64
		switch v := raw.(type) {
		case float64:
			if v != float64(int64(v)) {
				return nil, NewValidationError("config key %q expects a whole number", key)
			}
			n = int64(v)
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, NewValidationError("config key %q expects a whole number", key)
			}
			n = parsed
		default:
			return nil, NewValidationError("config key %q expects a whole number", key)
		}
		if n <= 0 {
			return nil, NewValidationError("config key %q must be positive", key)
		}
		return n, nil
	}
}

// configService implements IConfigService.
type configService struct {
	db    *mongo.Database
	cfg   *config.Config // Holds initial defaults loaded from .env
	rdb   *redis.Client
	cache map[string]interface{}
	mutex sync.RWMutex
}

// NewConfigService creates a new ConfigService and loads the stored overrides.
// Call SubscribeToChanges to follow updates made by other instances.
func NewConfigService(db *mongo.Database, initialCfg *config.Config, rdb *redis.Client) IConfigService {
	s := &configService{
		db:    db,
		cfg:   initialCfg,
		rdb:   rdb,
		cache: make(map[string]interface{}),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load initial config from DB: %v. Using defaults from .env", err)
	}
	return s
}

// ConfigEntry represents a document in the configuration collection.
type ConfigEntry struct {
	Key    string      `bson:"key"`
	Value  interface{} `bson:"value"`
	Public bool        `bson:"public"`
}

// Load fetches all config entries from DB and replaces the in-memory cache.
func (s *configService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(configCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query config collection: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry ConfigEntry
		if err := cursor.Decode(&entry); err == nil {
			newCache[entry.Key] = entry.Value
		} else {
			log.Printf("Warning: Failed to decode config entry during load: %v", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating config cursor: %w", err)
	}

	s.mutex.Lock()
	s.cache = newCache
	s.mutex.Unlock()
	log.Printf("Loaded %d entries into config cache from DB.", len(newCache))
	return nil
}

// defaults are the .env values for the dynamic keys.
func (s *configService) defaults() map[string]interface{} {
	if s.cfg == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"MAX_PAYMENT_FAILURES":    s.cfg.MaxPaymentFailures,
		"PAYMENT_CURRENCY":        s.cfg.PaymentCurrency,
		"SWEEP_RETIRE_AFTER_DAYS": int(s.cfg.SweepRetireAfter / (24 * time.Hour)),
		"APP_NAME":                s.cfg.AppName,
		"NOTIFICATION_TIMEOUT":    int64(s.cfg.NotificationTimeout / time.Second),
		"RATE_LIMIT_BUCKET_SIZE":  s.cfg.RateLimitBucketSize,
		"RATE_LIMIT_REFILL_RATE":  s.cfg.RateLimitRefillRate,
	}
}

// GetAll returns the effective values of all dynamic keys.
func (s *configService) GetAll(ctx context.Context) (map[string]interface{}, error) {
	out := s.defaults()
	s.mutex.RLock()
	for k, v := range s.cache {
		out[k] = v
	}
	s.mutex.RUnlock()
	return out, nil
}

// Get retrieves a value from the cache, falling back to the .env defaults.
func (s *configService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()
	if exists {
		return val, nil
	}
	if val, ok := s.defaults()[key]; ok {
		return val, nil
	}
	return nil, fmt.Errorf("config key '%s' not found", key)
}

func (s *configService) GetString(ctx context.Context, key string, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if strVal, ok := val.(string); ok && strVal != "" {
		return strVal
	}
	log.Printf("Warning: Config key '%s' is not a string, using default.", key)
	return defaultValue
}

func (s *configService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	// MongoDB might store numbers as float64 or int32/64
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		log.Printf("Warning: Config key '%s' is not an integer type (%T), using default.", key, val)
		return defaultValue
	}
}

func (s *configService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if boolVal, ok := val.(bool); ok {
		return boolVal
	}
	log.Printf("Warning: Config key '%s' is not a boolean, using default.", key)
	return defaultValue
}

func (s *configService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		log.Printf("Warning: Config key '%s' is not a float64 type (%T), using default.", key, val)
		return defaultValue
	}
}

// GetDuration reads a value stored as whole seconds.
func (s *configService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int32:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	default:
		log.Printf("Warning: Config key '%s' is not a numeric type for duration (%T), using default.", key, val)
		return defaultValue
	}
}

// SubscribeToChanges reloads the cache whenever another instance publishes a
// change. It returns when ctx is cancelled.
func (s *configService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, cannot subscribe to config changes.")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, configUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to receive confirmation from Redis Pub/Sub subscription: %w", err)
	}

	ch := pubsub.Channel()
	log.Println("Subscribed to Redis channel for config updates:", configUpdateChannel)

	for {
		select {
		case <-ctx.Done():
			log.Println("Config Pub/Sub listener stopped.")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			log.Printf("Received config update notification on channel %s: %s", msg.Channel, msg.Payload)
			if err := s.Load(ctx); err != nil {
				log.Printf("ERROR reloading config from DB after notification: %v", err)
			}
		}
	}
}

// SetConfigValue upserts a value, updates the local cache and notifies other instances.
func (s *configService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	filter := bson.M{"key": key}
	update := bson.M{
		"$set": bson.M{
			"key":    key,
			"value":  value,
			"public": isPublic,
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.db.Collection(configCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert config key '%s' in DB: %w", key, err)
	}

	s.mutex.Lock()
	s.cache[key] = value
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, configUpdateChannel, key).Err(); err != nil {
			log.Printf("Warning: Failed to publish config update notification for key '%s': %v", key, err)
		}
	}

	log.Printf("Updated config key '%s'.", key)
	return nil
}
