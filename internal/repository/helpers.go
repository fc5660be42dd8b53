// Package repository maps domain records onto oxidb collections and blob buckets.
//
// Every stored document carries its logical path (users/{uid},
// entities/{entityId}/...) in the "_path" field, which has a unique index.
// Repositories wrap and return errors; logging is left to the services.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrInvalidField     = errors.New("invalid field name")
)

// pathField holds the logical document path.
const pathField = "_path"

// normalizeID converts the _id field from numeric (float64) to string
// since OxiDB returns auto-increment numeric IDs.
func normalizeID(doc map[string]any) {
	if id, ok := doc["_id"]; ok {
		switch v := id.(type) {
		case float64:
			doc["_id"] = strconv.FormatFloat(v, 'f', 0, 64)
		case int:
			doc["_id"] = strconv.Itoa(v)
		}
	}
}

// extractID gets the inserted document ID from an OxiDB insert response.
func extractID(result map[string]any) string {
	if id, ok := result["id"]; ok {
		switch v := id.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', 0, 64)
		}
	}
	return ""
}

// toNumericID converts a string ID to float64 for OxiDB queries.
func toNumericID(id string) any {
	if n, err := strconv.ParseFloat(id, 64); err == nil {
		return n
	}
	return id
}

// toDoc converts a record into a document without its _id.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	delete(doc, "_id")
	return doc, nil
}

// fromDoc converts a stored document into a record.
func fromDoc[T any](doc map[string]any) (*T, error) {
	normalizeID(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &v, nil
}

func fromDocs[T any](docs []map[string]any) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := fromDoc[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func findOne[T any](ctx context.Context, c db.Conn, collection string, query map[string]any) (*T, error) {
	doc, err := c.FindOne(ctx, collection, query)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return fromDoc[T](doc)
}

func find[T any](ctx context.Context, c db.Conn, collection string, query map[string]any, opts *oxidb.FindOptions) ([]T, error) {
	docs, err := c.Find(ctx, collection, query, opts)
	if err != nil {
		return nil, err
	}
	return fromDocs[T](docs)
}

// setFields builds a merge-write: every key of data becomes prefix.key, so
// fields missing from data keep their stored value.
func setFields(prefix string, data map[string]any) (map[string]any, error) {
	set := make(map[string]any, len(data))
	for k, v := range data {
		if k == "" || strings.Contains(k, ".") || strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
		if prefix != "" {
			k = prefix + "." + k
		}
		set[k] = v
	}
	return set, nil
}

func modifiedCount(result map[string]any) int {
	switch v := result["modified"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// updateExisting $sets fields on the matching document. A zero modified
// count is only ErrNotFound when nothing matches the query.
func updateExisting(ctx context.Context, c db.Conn, collection string, query, set map[string]any) error {
	res, err := c.UpdateOne(ctx, collection, query, map[string]any{"$set": set})
	if err != nil {
		return translate(err)
	}
	if modifiedCount(res) > 0 {
		return nil
	}
	n, err := c.Count(ctx, collection, query)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// translate maps store errors onto repository sentinels.
func translate(err error) error {
	if oxidb.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
