package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSeesPayloadAndDoc(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	payload := map[string]interface{}{"firstName": "Jane", "lastName": "Doe"}
	doc := map[string]interface{}{"customer_id": "C1"}

	value, err := e.Evaluate(context.Background(), `payload.firstName + " " + payload.lastName`, payload, doc)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", value)

	value, err = e.Evaluate(context.Background(), `doc.customer_id + "-x"`, payload, doc)
	require.NoError(t, err)
	assert.Equal(t, "C1-x", value)
}

func TestValidateExpression(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, e.ValidateExpression(`payload.name.upperAscii()`))
	assert.Error(t, e.ValidateExpression(`payload.name +`))
}

func TestCompileExpressionIsCached(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	const expr = `payload.price * 2.0`
	_, err = e.CompileExpression(expr)
	require.NoError(t, err)
	_, err = e.CompileExpression(expr)
	require.NoError(t, err)
	assert.Len(t, e.programs, 1)

	// The cached program still evaluates.
	value, err := e.Evaluate(context.Background(), expr, map[string]interface{}{"price": 3.0}, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 6.0, value)
	assert.Len(t, e.programs, 1)
}
