package setup

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN("duel", "secret", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "duel:secret@tcp(127.0.0.1:3306)/puzzle_duel?charset=utf8mb4&parseTime=True&loc=Local", dsn)

	_, err = buildDSN("", "secret", "db", "3306", "x")
	assert.Error(t, err)
	_, err = buildDSN("duel", "", "db", "3306", "x")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := InitRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	_, err = InitRedis("", "", 0)
	assert.Error(t, err)
}

func TestMigrateDB_NilConnection(t *testing.T) {
	assert.Error(t, MigrateDB(nil))
}
