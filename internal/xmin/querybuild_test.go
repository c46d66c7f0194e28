package xmin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildUpsertQuerySinglePK(t *testing.T) {
	q := buildUpsertQuery("public", "users", []string{"id"}, []string{"id", "name", "email"}, 2)
	require.Contains(t, q, `INSERT INTO "public"."users" ("id", "name", "email")`)
	require.Contains(t, q, "VALUES ($1, $2, $3), ($4, $5, $6)")
	require.Contains(t, q, `ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "email" = EXCLUDED."email"`)
}

func TestBuildUpsertQueryAllColumnsPK(t *testing.T) {
	q := buildUpsertQuery("public", "link_table", []string{"a_id", "b_id"}, []string{"a_id", "b_id"}, 1)
	require.Contains(t, q, "DO NOTHING")
	require.NotContains(t, q, "DO UPDATE")
}

func TestBuildDeleteQuerySinglePK(t *testing.T) {
	q := buildDeleteQuery("public", "users", []string{"id"}, 3)
	require.Equal(t, `DELETE FROM "public"."users" WHERE "id" IN ($1, $2, $3)`, q)
}

func TestBuildDeleteQueryCompositePK(t *testing.T) {
	q := buildDeleteQuery("public", "link_table", []string{"a_id", "b_id"}, 2)
	require.True(t, strings.HasPrefix(q, `DELETE FROM "public"."link_table" WHERE ("a_id", "b_id") IN (`))
	require.Contains(t, q, "($1, $2), ($3, $4)")
}

func TestUpsertBatchSizeRespectsParamLimit(t *testing.T) {
	size := upsertBatchSize(10)
	require.LessOrEqual(t, size*10, maxUpsertParams)
	require.Greater(t, size, 0)
}

func TestChunkRowsCeilingDivision(t *testing.T) {
	chunks := chunkRows(25, 10)
	require.Len(t, chunks, 3)
	require.Equal(t, [2]int{0, 10}, chunks[0])
	require.Equal(t, [2]int{10, 20}, chunks[1])
	require.Equal(t, [2]int{20, 25}, chunks[2])
}

func TestChunkRowsExact(t *testing.T) {
	chunks := chunkRows(20, 10)
	require.Len(t, chunks, 2)
}

func TestChunkRowsEmpty(t *testing.T) {
	chunks := chunkRows(0, 10)
	require.Len(t, chunks, 0)
}
