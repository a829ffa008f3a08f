package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Identifier
	}{
		{raw: "feishu:oc_123", want: Identifier{Kind: KindChat, Value: "oc_123"}},
		{raw: "union:on_9", want: Identifier{Kind: KindUnionUser, Value: "on_9"}},
		{raw: "LARK:ou_1", want: Identifier{Kind: KindOpenUser, Value: "ou_1"}},
		{raw: "lark:chat:abc", want: Identifier{Kind: KindChat, Value: "abc"}},
		{raw: "  open:xyz ", want: Identifier{Kind: KindOpenUser, Value: "xyz"}},
		{raw: "user:ou_5", want: Identifier{Kind: KindOpenUser, Value: "ou_5"}},
		{raw: "user:7e3f", want: Identifier{Kind: KindLegacyUser, Value: "7e3f"}},
		{raw: "chat_id:oc_7", want: Identifier{Kind: KindChat, Value: "oc_7"}},
		{raw: "open_id:ou_7", want: Identifier{Kind: KindOpenUser, Value: "ou_7"}},
		{raw: "user_id:u_7", want: Identifier{Kind: KindLegacyUser, Value: "u_7"}},
		{raw: "ou_abc", want: Identifier{Kind: KindOpenUser, Value: "ou_abc"}},
		{raw: "plain-value", want: Identifier{Kind: KindUnknown, Value: "plain-value"}},
		{raw: "*", want: Identifier{Kind: KindUnknown, Value: "*"}},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.raw)
		assert.True(t, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestNormalizeBlank(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "\t\n"} {
		_, ok := Normalize(raw)
		assert.False(t, ok, "%q", raw)
	}
}

func TestNormalizeStripsOnlyOneBrand(t *testing.T) {
	t.Parallel()

	got, ok := Normalize("feishu:lark:ou_1")
	assert.True(t, ok)
	assert.Equal(t, "lark:ou_1", got.Value)
}

func TestMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, Matches([]string{"LARK:ou_1"}, "ou_1"))
	assert.True(t, Matches([]string{"ou_2", "OU_1"}, "feishu:ou_1"))
	assert.True(t, Matches([]string{"*"}, "ou_anything"))
	assert.True(t, Matches([]string{"feishu:*"}, "ou_anything"))
	assert.False(t, Matches([]string{"ou_2"}, "ou_1"))
	assert.False(t, Matches(nil, "ou_1"))
	assert.False(t, Matches([]string{"", "  "}, "ou_1"))
	assert.False(t, Matches([]string{"ou_1"}, ""))
}

func TestCustomTable(t *testing.T) {
	t.Parallel()

	table := NewTable().
		Brand("acme").
		Scheme("room", KindChat).
		Prefix("r-", KindChat).
		Prefix("u-", KindOpenUser).
		Build()
	n := NewNormalizer(table)

	got, ok := n.Normalize("ACME:room:lobby")
	assert.True(t, ok)
	assert.Equal(t, Identifier{Kind: KindChat, Value: "lobby"}, got)

	got, _ = n.Normalize("u-42")
	assert.Equal(t, KindOpenUser, got.Kind)

	got, _ = n.Normalize("feishu:oc_1")
	assert.Equal(t, Identifier{Kind: KindUnknown, Value: "feishu:oc_1"}, got)
}

func TestZeroNormalizerPassesThrough(t *testing.T) {
	t.Parallel()

	var n Normalizer
	got, ok := n.Normalize(" ou_1 ")
	assert.True(t, ok)
	assert.Equal(t, Identifier{Kind: KindUnknown, Value: "ou_1"}, got)
}
