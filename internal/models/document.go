package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// Reserved top-level keys of the serialized document. Every other boolean
// key is a membership flag named after a collection path.
const (
	keyID     = "_id"
	keyRev    = "_rev"
	keyItem   = "item"
	keySource = "source"
)

// Document is the local persisted record for one Item, plus the records
// fedisync keeps for itself (app registration, token, account, cursors).
type Document struct {
	// ID is the primary key; for mirrored items it equals the item id.
	ID string
	// Rev is the store-assigned revision; empty until the first write.
	Rev string
	// Item is the payload as last merged.
	Item Item
	// Source identifies the owning local account ("handle@domain").
	Source string
	// Flags records the collection paths this document was seen in.
	Flags map[string]bool
}

// HasFlag reports whether the document is flagged for path.
func (d *Document) HasFlag(path string) bool {
	return d.Flags[path]
}

// SetFlag sets the membership flag for path.
func (d *Document) SetFlag(path string, v bool) {
	if d.Flags == nil {
		d.Flags = make(map[string]bool)
	}
	d.Flags[path] = v
}

// Clone returns a copy that shares no maps with d.
func (d Document) Clone() Document {
	out := d
	if d.Item != nil {
		out.Item = cloneValue(map[string]any(d.Item)).(map[string]any)
	}
	if d.Flags != nil {
		out.Flags = make(map[string]bool, len(d.Flags))
		for k, v := range d.Flags {
			out.Flags[k] = v
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Item:
		return Item(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// MarshalJSON flattens the document into a single object:
//
//	{"_id": "42", "_rev": "1-…", "item": {...}, "source": "a@d", "timelines/home": true}
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Flags)+4)
	for k, v := range d.Flags {
		m[k] = v
	}
	m[keyID] = d.ID
	if d.Rev != "" {
		m[keyRev] = d.Rev
	}
	if d.Item != nil {
		m[keyItem] = d.Item
	}
	if d.Source != "" {
		m[keySource] = d.Source
	}
	return json.Marshal(m)
}

// UnmarshalJSON reverses MarshalJSON. Non-boolean unknown keys are ignored.
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = Document{}
	for k, v := range raw {
		switch k {
		case keyID:
			if err := json.Unmarshal(v, &d.ID); err != nil {
				return fmt.Errorf("decode %s: %w", keyID, err)
			}
		case keyRev:
			if err := json.Unmarshal(v, &d.Rev); err != nil {
				return fmt.Errorf("decode %s: %w", keyRev, err)
			}
		case keyItem:
			if err := DecodeJSON(v, &d.Item); err != nil {
				return fmt.Errorf("decode %s: %w", keyItem, err)
			}
		case keySource:
			if err := json.Unmarshal(v, &d.Source); err != nil {
				return fmt.Errorf("decode %s: %w", keySource, err)
			}
		default:
			var flag bool
			if err := json.Unmarshal(v, &flag); err == nil {
				d.SetFlag(k, flag)
			}
		}
	}
	return nil
}

// Normalize returns a copy of d whose item has the shape it would have
// after a store round trip.
func (d Document) Normalize() (Document, error) {
	out := d.Clone()
	item, err := NormalizeItem(out.Item)
	if err != nil {
		return Document{}, err
	}
	out.Item = item
	return out, nil
}

// Merge shallow-merges patch onto current: fields present in patch win per
// key, fields absent from patch are kept, and flags accumulate. The result
// carries current's id and revision.
func Merge(current, patch Document) Document {
	out := current.Clone()
	p := patch.Clone()

	if p.Item != nil {
		out.Item = p.Item
	}
	if p.Source != "" {
		out.Source = p.Source
	}
	for k, v := range p.Flags {
		out.SetFlag(k, v)
	}
	return out
}

var contentOptions = []cmp.Option{
	cmpopts.IgnoreFields(Document{}, "Rev"),
	cmpopts.EquateEmpty(),
}

// SameContent reports whether a and b hold the same content, ignoring the
// revision. Both sides should be normalized (see Document.Normalize).
func SameContent(a, b Document) bool {
	return cmp.Equal(a, b, contentOptions...)
}

// NextRevision returns the revision following rev, in "<generation>-<hex>"
// form. An empty or unparsable rev starts at generation 1.
func NextRevision(rev string) string {
	gen := 0
	if head, _, ok := strings.Cut(rev, "-"); ok {
		if n, err := strconv.Atoi(head); err == nil {
			gen = n
		}
	}
	return strconv.Itoa(gen+1) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RevisionGeneration returns the numeric prefix of rev, or 0.
func RevisionGeneration(rev string) int {
	head, _, _ := strings.Cut(rev, "-")
	n, _ := strconv.Atoi(head)
	return n
}
