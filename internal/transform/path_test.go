package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	doc := map[string]interface{}{
		"customer": map[string]interface{}{
			"id": "C1",
			"account": map[string]interface{}{
				"currency": "USD",
			},
		},
		"amount": 42.5,
	}

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{
			name:  "top level field",
			path:  "amount",
			want:  42.5,
			found: true,
		},
		{
			name:  "nested field",
			path:  "customer.id",
			want:  "C1",
			found: true,
		},
		{
			name:  "deeply nested field",
			path:  "customer.account.currency",
			want:  "USD",
			found: true,
		},
		{
			name:  "missing field",
			path:  "customer.name",
			found: false,
		},
		{
			name:  "missing intermediate",
			path:  "order.id",
			found: false,
		},
		{
			name:  "path through scalar",
			path:  "amount.cents",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(doc, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAssign(t *testing.T) {
	doc := map[string]interface{}{}

	Assign(doc, "party.id", "C1")
	Assign(doc, "party.name", "Jane Doe")
	Assign(doc, "currency", "USD")

	party, ok := doc["party"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "C1", party["id"])
	assert.Equal(t, "Jane Doe", party["name"])
	assert.Equal(t, "USD", doc["currency"])
}

func TestAssignReplacesScalarOnPath(t *testing.T) {
	doc := map[string]interface{}{"party": "plain"}

	Assign(doc, "party.id", "C1")

	party, ok := doc["party"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "C1", party["id"])
}
