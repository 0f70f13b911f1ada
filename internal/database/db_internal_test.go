// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddDefaultParams(t *testing.T) {
	assert.Equal(t,
		"./data/taxijobs.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on",
		addDefaultParams("./data/taxijobs.db"))

	assert.Equal(t,
		":memory:?_busy_timeout=100&_txlock=immediate&_foreign_keys=on",
		addDefaultParams(":memory:?_busy_timeout=100"))
}

func TestInMemory(t *testing.T) {
	assert.True(t, inMemory(":memory:"))
	assert.True(t, inMemory("file::memory:?mode=memory"))
	assert.False(t, inMemory("./data/taxijobs.db"))
}
