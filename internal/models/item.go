// Package models defines the data shapes that flow between the Mastodon
// transport, the crawler and the document store.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
)

// Item is a remote entity payload (an account, a status, ...). Its fields
// are remote-defined and read-only from fedisync's perspective. Numbers are
// kept as json.Number so that payloads compare equal after a store round trip.
type Item map[string]any

// ID returns the item's identifier as a string. Mastodon ids are strings,
// but integer ids are accepted too.
func (i Item) ID() (string, bool) {
	switch v := i["id"].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// String returns the string value stored under key, or "".
func (i Item) String(key string) string {
	if s, ok := i[key].(string); ok {
		return s
	}
	return ""
}

// Object returns the nested object stored under key, or nil.
func (i Item) Object(key string) Item {
	switch v := i[key].(type) {
	case map[string]any:
		return Item(v)
	case Item:
		return v
	default:
		return nil
	}
}

// ItemFromRaw decodes one entry of a page body. A bare identifier (a JSON
// string or number, as returned by id-only listings) is wrapped into a
// minimal item {"id": ...}.
func ItemFromRaw(raw json.RawMessage) (Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty item", common.ErrInvalidDocument)
	}

	switch trimmed[0] {
	case '{':
		var item Item
		if err := DecodeJSON(trimmed, &item); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
		}
		if _, ok := item.ID(); !ok {
			return nil, fmt.Errorf("%w: item without id", common.ErrInvalidDocument)
		}
		return item, nil
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil || id == "" {
			return nil, fmt.Errorf("%w: bad bare id %s", common.ErrInvalidDocument, trimmed)
		}
		return Item{"id": id}, nil
	default:
		var n json.Number
		if err := DecodeJSON(trimmed, &n); err != nil {
			return nil, fmt.Errorf("%w: unsupported item %s", common.ErrInvalidDocument, trimmed)
		}
		return Item{"id": n}, nil
	}
}

// DecodeJSON unmarshals data with UseNumber, the decoding used for every
// payload that ends up in a Document.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// NormalizeItem round-trips an item through JSON so that values built in Go
// (ints, nested structs) take the same shape as values read from the store.
func NormalizeItem(i Item) (Item, error) {
	if i == nil {
		return nil, nil
	}
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	var out Item
	if err := DecodeJSON(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Source formats the owning-account marker stored on documents.
func Source(acct, domain string) string {
	return strings.TrimPrefix(acct, "@") + "@" + domain
}
