// Package docstore reads and writes the sensor records kept in a document collection.
package docstore

import (
	"fmt"
	"slices"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/askiada/go-sensor-pipeline/internal/frame"
)

// IDField is the identity field every stored document carries.
const IDField = "_id"

// Field is one key/value pair of a document.
type Field struct {
	Key   string
	Value any
}

// Document is an ordered list of fields.
type Document []Field

// FromBSON converts a decoded document, keeping the field order.
func FromBSON(d bson.D) Document {
	doc := make(Document, len(d))
	for i, e := range d {
		doc[i] = Field{Key: e.Key, Value: e.Value}
	}

	return doc
}

// BSON converts doc for insertion.
func (doc Document) BSON() bson.D {
	d := make(bson.D, len(doc))
	for i, f := range doc {
		d[i] = bson.E{Key: f.Key, Value: f.Value}
	}

	return d
}

// Cell formats a field value as a CSV cell. Null is empty.
func Cell(v any) string {
	switch val := v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// ToFrame builds a text frame from docs. Columns follow the order in which keys
// are first seen; a key absent from a document is missing in that row.
// The drop keys are left out.
func ToFrame(docs []Document, drop ...string) (*frame.Frame, error) {
	header := make([]string, 0)
	position := make(map[string]int)

	for _, doc := range docs {
		for _, f := range doc {
			if _, ok := position[f.Key]; ok || slices.Contains(drop, f.Key) {
				continue
			}

			position[f.Key] = len(header)
			header = append(header, f.Key)
		}
	}

	records := make([][]string, len(docs))

	for r, doc := range docs {
		record := make([]string, len(header))

		for _, f := range doc {
			if i, ok := position[f.Key]; ok {
				record[i] = Cell(f.Value)
			}
		}

		records[r] = record
	}

	return frame.FromRecords(header, records)
}

// FromRecord builds the document stored for one CSV row: numbers are stored
// as numbers, empty cells as null and everything else as text.
func FromRecord(header, record []string) Document {
	doc := make(Document, len(header))

	for i, key := range header {
		doc[i] = Field{Key: key, Value: parseCell(record[i])}
	}

	return doc
}

func parseCell(cell string) any {
	if cell == "" {
		return nil
	}

	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}

	return cell
}
