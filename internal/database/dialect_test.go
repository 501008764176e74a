package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindQuestion(t *testing.T) {
	got := rebindQuestion("SELECT a FROM t WHERE device = $1 AND timestamp >= $2 AND timestamp <= $3")
	assert.Equal(t, "SELECT a FROM t WHERE device = ? AND timestamp >= ? AND timestamp <= ?", got)
}

func TestDialectFor(t *testing.T) {
	d, err := dialectFor("")
	assert.NoError(t, err)
	assert.Equal(t, DriverSQLite, d.name)
	assert.Nil(t, d.txOptions)

	d, err = dialectFor(DriverPostgres)
	assert.NoError(t, err)
	assert.True(t, d.txOptions.ReadOnly)
	assert.Equal(t, "$1", d.rebind("$1"))
}
