package meta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeConverterToDbEncodesJSONColumnAsString(t *testing.T) {
	tc := typeConverter{}

	out, err := tc.ToDb(jsonColumn(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	out, err = tc.ToDb(jsonColumn(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", out)

	out, err = tc.ToDb("passthrough")
	require.NoError(t, err)
	assert.Equal(t, "passthrough", out)
}

func TestTypeConverterFromDbRoundTripsThroughBinder(t *testing.T) {
	tc := typeConverter{}

	var target jsonColumn
	scanner, ok := tc.FromDb(&target)
	require.True(t, ok)

	holder, ok := scanner.Holder.(*string)
	require.True(t, ok)
	*holder = `{"a":1}`

	require.NoError(t, scanner.Binder(scanner.Holder, scanner.Target))
	assert.JSONEq(t, `{"a":1}`, string(json.RawMessage(target)))
}

func TestTypeConverterFromDbTreatsEmptyStringAsNull(t *testing.T) {
	tc := typeConverter{}

	var target jsonColumn
	scanner, ok := tc.FromDb(&target)
	require.True(t, ok)

	holder := scanner.Holder.(*string)
	*holder = ""
	require.NoError(t, scanner.Binder(scanner.Holder, scanner.Target))
	assert.Equal(t, jsonColumn("null"), target)
}

func TestTypeConverterFromDbRejectsUnknownType(t *testing.T) {
	tc := typeConverter{}
	_, ok := tc.FromDb(new(string))
	assert.False(t, ok)
}
