// Package identifier normalizes raw chat-platform identifiers into typed values.
// Vendor specifics (brand prefixes, role schemes, id prefixes) live in a Table so
// the same normalizer serves other chat vendors.
package identifier

import "strings"

// Kind classifies a normalized identifier.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindChat       Kind = "chat"
	KindOpenUser   Kind = "open_user"
	KindUnionUser  Kind = "union_user"
	KindLegacyUser Kind = "legacy_user"
)

// IsUser reports whether the kind denotes a single user.
func (k Kind) IsUser() bool {
	return k == KindOpenUser || k == KindUnionUser || k == KindLegacyUser
}

// Identifier is a normalized identifier: the value with all recognized prefixes
// stripped, plus its declared or inferred kind.
type Identifier struct {
	Kind  Kind
	Value string
}

// String renders the identifier as kind:value.
func (i Identifier) String() string {
	return string(i.Kind) + ":" + i.Value
}

// Wildcard is the allowlist entry matching every sender.
const Wildcard = "*"

// scheme declares an explicit role prefix such as "chat:".
type scheme struct {
	prefix string
	kind   Kind
}

// valuePrefix infers a kind from the leading characters of a bare id.
type valuePrefix struct {
	prefix string
	kind   Kind
}

// Table holds the vendor-specific normalization rules.
type Table struct {
	brands   []string
	schemes  []scheme
	prefixes []valuePrefix
	// userKind is the kind a generic "user" scheme resolves to when the value
	// carries no recognizable prefix.
	userKind Kind
}

// TableBuilder assembles a Table.
type TableBuilder struct {
	t Table
}

// NewTable starts a Table definition.
func NewTable() *TableBuilder {
	return &TableBuilder{t: Table{userKind: KindLegacyUser}}
}

// Brand registers a vendor brand prefix; "brand:" is stripped before role checks.
func (b *TableBuilder) Brand(names ...string) *TableBuilder {
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		b.t.brands = append(b.t.brands, name+":")
	}
	return b
}

// Scheme registers a role scheme ("chat", "open", ...) and the kind it declares.
// KindUnknown marks a generic user scheme whose kind is refined by value prefix.
func (b *TableBuilder) Scheme(name string, kind Kind) *TableBuilder {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		b.t.schemes = append(b.t.schemes, scheme{prefix: name + ":", kind: kind})
	}
	return b
}

// Prefix registers a value prefix (for example "oc_") and the kind it implies.
func (b *TableBuilder) Prefix(prefix string, kind Kind) *TableBuilder {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix != "" {
		b.t.prefixes = append(b.t.prefixes, valuePrefix{prefix: prefix, kind: kind})
	}
	return b
}

// Build returns the finished table.
func (b *TableBuilder) Build() Table {
	t := b.t
	t.brands = append([]string(nil), t.brands...)
	t.schemes = append([]scheme(nil), t.schemes...)
	t.prefixes = append([]valuePrefix(nil), t.prefixes...)
	return t
}

// FeishuTable covers Feishu and Lark identifiers.
var FeishuTable = NewTable().
	Brand("feishu", "lark").
	Scheme("chat", KindChat).
	Scheme("chat_id", KindChat).
	Scheme("open", KindOpenUser).
	Scheme("open_id", KindOpenUser).
	Scheme("union", KindUnionUser).
	Scheme("union_id", KindUnionUser).
	Scheme("user_id", KindLegacyUser).
	Scheme("user", KindUnknown).
	Prefix("oc_", KindChat).
	Prefix("ou_", KindOpenUser).
	Prefix("on_", KindUnionUser).
	Build()

// Normalizer applies a Table. The zero value recognizes nothing and passes
// trimmed values through as KindUnknown.
type Normalizer struct {
	table Table
}

// NewNormalizer creates a Normalizer for the given table.
func NewNormalizer(table Table) Normalizer {
	return Normalizer{table: table}
}

var feishu = NewNormalizer(FeishuTable)

// Normalize normalizes raw with the Feishu table.
func Normalize(raw string) (Identifier, bool) {
	return feishu.Normalize(raw)
}

// Matches reports whether senderID is permitted by entries under the Feishu table.
func Matches(entries []string, senderID string) bool {
	return feishu.Matches(entries, senderID)
}

// Key returns the Feishu comparison key for raw.
func Key(raw string) string {
	return feishu.Key(raw)
}

// Normalize strips at most one brand prefix and one role scheme from raw and
// classifies the remainder. The boolean is false when raw is blank.
func (n Normalizer) Normalize(raw string) (Identifier, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Identifier{}, false
	}
	if rest, ok := cutPrefixFold(value, n.table.brands); ok {
		value = strings.TrimSpace(rest)
	}
	for _, s := range n.table.schemes {
		if !hasPrefixFold(value, s.prefix) {
			continue
		}
		value = strings.TrimSpace(value[len(s.prefix):])
		kind := s.kind
		if kind == KindUnknown {
			kind = n.inferKind(value)
			if !kind.IsUser() {
				kind = n.table.userKind
			}
		}
		return Identifier{Kind: kind, Value: value}, true
	}
	return Identifier{Kind: n.inferKind(value), Value: value}, true
}

// Key returns the comparison key for an allowlist entry or sender id: the
// stripped value, lower-cased. Blank input yields "".
func (n Normalizer) Key(raw string) string {
	id, ok := n.Normalize(raw)
	if !ok {
		return ""
	}
	return strings.ToLower(id.Value)
}

// Matches reports whether any entry equals senderID under Key, or is the wildcard.
func (n Normalizer) Matches(entries []string, senderID string) bool {
	if len(entries) == 0 {
		return false
	}
	sender := n.Key(senderID)
	for _, entry := range entries {
		key := n.Key(entry)
		if key == "" {
			continue
		}
		if key == Wildcard {
			return true
		}
		if sender != "" && key == sender {
			return true
		}
	}
	return false
}

func (n Normalizer) inferKind(value string) Kind {
	for _, p := range n.table.prefixes {
		if hasPrefixFold(value, p.prefix) {
			return p.kind
		}
	}
	return KindUnknown
}

func cutPrefixFold(value string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		if hasPrefixFold(value, prefix) {
			return value[len(prefix):], true
		}
	}
	return value, false
}

func hasPrefixFold(value, prefix string) bool {
	return len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix)
}
