package manifest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoundaryHasExpectedPrefixAndIsUnique(t *testing.T) {
	b1, err := NewBoundary()
	require.NoError(t, err)
	b2, err := NewBoundary()
	require.NoError(t, err)

	assert.True(t, len(b1) > len("expo-update-"))
	assert.Equal(t, "expo-update-", b1[:len("expo-update-")])
	assert.NotEqual(t, b1, b2)
}

func TestContentTypeIncludesBoundary(t *testing.T) {
	assert.Equal(t, `multipart/mixed; boundary=expo-update-abc`, ContentType("expo-update-abc"))
}

func TestWriteMultipartUnsignedExactBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMultipart(&buf, "BOUNDARY", []byte(`{"a":1}`), ""))

	expected := "" +
		"--BOUNDARY\r\n" +
		"Content-Disposition: form-data; name=\"manifest\"\r\n" +
		"Content-Type: application/json; charset=utf-8\r\n" +
		"\r\n" +
		`{"a":1}` + "\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Disposition: form-data; name=\"extensions\"\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{}\r\n" +
		"--BOUNDARY--\r\n"

	assert.Equal(t, expected, buf.String())
}

func TestWriteMultipartSignedIncludesSignatureHeaderBeforeBlankLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMultipart(&buf, "BOUNDARY", []byte(`{"a":1}`), `sig="abc", keyid="main"`))

	expected := "" +
		"--BOUNDARY\r\n" +
		"Content-Disposition: form-data; name=\"manifest\"\r\n" +
		"Content-Type: application/json; charset=utf-8\r\n" +
		`expo-signature: sig="abc", keyid="main"` + "\r\n" +
		"\r\n" +
		`{"a":1}` + "\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Disposition: form-data; name=\"extensions\"\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{}\r\n" +
		"--BOUNDARY--\r\n"

	assert.Equal(t, expected, buf.String())
}
