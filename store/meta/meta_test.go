package meta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKeyErrRecognizesKnownDriverMessages(t *testing.T) {
	assert.True(t, isDuplicateKeyErr(errors.New("Error 1062: Duplicate entry 'myapp' for key 'slug'")))
	assert.True(t, isDuplicateKeyErr(errors.New("pq: duplicate key value violates unique constraint")))
	assert.True(t, isDuplicateKeyErr(errors.New("UNIQUE constraint failed: apps.slug")))
	assert.False(t, isDuplicateKeyErr(errors.New("connection refused")))
	assert.False(t, isDuplicateKeyErr(nil))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("hello world", "world"))
	assert.True(t, containsAny("hello world", "nope", "wor"))
	assert.False(t, containsAny("hello world", "nope", "missing"))
	assert.False(t, containsAny("short", "longer-than-short"))
}
