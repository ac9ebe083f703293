package documents

import (
	"sort"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/models"
)

// View names.
const (
	ViewProps      = "props"
	ViewPropByTime = "propByTime"
	ViewByAccount  = "byAccount"
	ViewPropGroup  = "propGroup"
)

// keySep joins the components of a composite key. It sorts below every
// printable character, so [a] < [a, b] < [a + "x"].
const keySep = "\x1f"

// IndexEntry is one row a document contributes to a view.
type IndexEntry struct {
	View string
	Key  []string
}

// Emit computes the index rows of doc:
//
//	props       [flag]                      for every true flag
//	propByTime  [flag, created_at|published] for every true flag
//	byAccount   [account.url, created_at]
//	propGroup   [source, flag]              for every true flag
func Emit(doc *models.Document) []IndexEntry {
	var out []IndexEntry

	var postDate string
	if doc.Item != nil {
		postDate = doc.Item.String("created_at")
		if postDate == "" {
			postDate = doc.Item.String("published")
		}
	}

	for _, flag := range sortedFlags(doc) {
		out = append(out, IndexEntry{View: ViewProps, Key: []string{flag}})
		if postDate != "" {
			out = append(out, IndexEntry{View: ViewPropByTime, Key: []string{flag, postDate}})
		}
		if doc.Source != "" {
			out = append(out, IndexEntry{View: ViewPropGroup, Key: []string{doc.Source, flag}})
		}
	}

	if doc.Item != nil {
		if url := doc.Item.Object("account").String("url"); url != "" {
			out = append(out, IndexEntry{View: ViewByAccount, Key: []string{url, doc.Item.String("created_at")}})
		}
	}
	return out
}

func sortedFlags(doc *models.Document) []string {
	flags := make([]string, 0, len(doc.Flags))
	for k, v := range doc.Flags {
		if v {
			flags = append(flags, k)
		}
	}
	sort.Strings(flags)
	return flags
}

// EncodeKey flattens a composite key into its stored form.
func EncodeKey(key []string) string {
	return strings.Join(key, keySep)
}

// DecodeKey splits a stored key back into its components.
func DecodeKey(s string) []string {
	return strings.Split(s, keySep)
}

// inRange reports whether the encoded key k lies within opts' bounds.
func inRange(k string, opts models.QueryOptions) bool {
	if opts.StartKey != nil && k < EncodeKey(opts.StartKey) {
		return false
	}
	if opts.EndKey != nil && k > EncodeKey(opts.EndKey) {
		return false
	}
	return true
}
