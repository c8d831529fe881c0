// Package store defines the document store port used by every repository
// in the platform, plus the filter expression language shared by its two
// implementations: memstore (process-local, for tests and development) and
// pocketbase (the production document store).
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Collection names used by the platform.
const (
	CollectionOrders          = "orders"
	CollectionInquiries       = "inquiries"
	CollectionInquiryMessages = "inquiry_messages"
	CollectionBreakerStates   = "circuit_breaker_states"
	CollectionProductMappings = "product_mappings"
	CollectionAutomationLogs  = "automation_logs"
)

// DateTimeLayout is the wire format for datetime fields. It sorts
// lexicographically, which keeps string comparison consistent between
// implementations.
const DateTimeLayout = "2006-01-02 15:04:05.000Z"

// Store is a handle to the document database.
type Store interface {
	// Collection returns an accessor for the named collection.
	Collection(name string) Collection

	// Health verifies connectivity.
	Health(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Collection provides CRUD plus filtered listing over one collection.
type Collection interface {
	// Create inserts a record. When fields carries a non-empty "id" the
	// store uses it, otherwise one is generated.
	Create(ctx context.Context, fields map[string]any) (*Record, error)

	// Get fetches a record by id. Missing records return
	// core.ErrRecordNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Update patches the given fields on an existing record.
	Update(ctx context.Context, id string, fields map[string]any) (*Record, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error

	// List returns records matching the query.
	List(ctx context.Context, q Query) ([]*Record, error)

	// First returns the first match or core.ErrRecordNotFound.
	First(ctx context.Context, q Query) (*Record, error)
}

// Query describes a filtered, sorted, paginated listing.
type Query struct {
	// Filter restricts results; nil matches everything.
	Filter *Expr

	// Sort is a comma-separated field list; a "-" prefix sorts descending
	// ("-created").
	Sort string

	// Offset skips that many matches.
	Offset int

	// Limit caps the result size; zero means the implementation default.
	Limit int
}

// Record is one document. System fields live on the struct; collection
// fields stay in the Fields map.
type Record struct {
	ID      string
	Created time.Time
	Updated time.Time
	Fields  map[string]any
}

// Value resolves a field by name, treating id, created, and updated as
// system fields.
func (r *Record) Value(field string) any {
	switch field {
	case "id":
		return r.ID
	case "created":
		return r.Created
	case "updated":
		return r.Updated
	}
	return r.Fields[field]
}

// GetString returns the named field as a string, or "".
func (r *Record) GetString(field string) string {
	if v, ok := r.Fields[field].(string); ok {
		return v
	}
	return ""
}

// GetFloat returns the named field as a float64, or 0. JSON numbers decode
// as float64; integer values stored by memstore are converted.
func (r *Record) GetFloat(field string) float64 {
	switch v := r.Fields[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// GetInt returns the named field as an int, or 0.
func (r *Record) GetInt(field string) int {
	return int(r.GetFloat(field))
}

// GetBool returns the named field as a bool, or false.
func (r *Record) GetBool(field string) bool {
	if v, ok := r.Fields[field].(bool); ok {
		return v
	}
	return false
}

// GetTime parses the named datetime field. Zero time on absence or
// parse failure.
func (r *Record) GetTime(field string) time.Time {
	s := r.GetString(field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateTimeLayout, s)
	if err != nil {
		// Some stores return RFC3339.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

// GetMap returns the named field as a nested object, or nil.
func (r *Record) GetMap(field string) map[string]any {
	if v, ok := r.Fields[field].(map[string]any); ok {
		return v
	}
	return nil
}

// FormatTime renders t in the store datetime format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}
