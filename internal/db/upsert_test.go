package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "annotations",
		Columns:      []string{"uri", "doc"},
		ConflictKeys: []string{"uri"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "annotations",
		ConflictKeys: []string{"uri"},
	}, [][]any{{"a1"}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "annotations",
		Columns: []string{"uri", "doc"},
	}, [][]any{{"a1", "{}"}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestBulkUpsert_DoUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_annotations"}, []string{"uri", "doc"}).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("uri"\) DO UPDATE SET "doc" = EXCLUDED."doc"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "annotations",
		Columns:      []string{"uri", "doc"},
		ConflictKeys: []string{"uri"},
	}, [][]any{{"a1", "{}"}, {"a2", "{}"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_DoNothingForKeyOnlyTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_annotation_tags"}, []string{"annotation_uri", "tag"}).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("annotation_uri", "tag"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "annotation_tags",
		Columns:      []string{"annotation_uri", "tag"},
		ConflictKeys: []string{"annotation_uri", "tag"},
	}, [][]any{{"a1", "t1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "annotations",
		Columns:      []string{"uri"},
		ConflictKeys: []string{"uri"},
	}, [][]any{{"a1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestBulkUpsert_CopyFailsRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_annotations"}, []string{"uri"}).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "annotations",
		Columns:      []string{"uri"},
		ConflictKeys: []string{"uri"},
	}, [][]any{{"a1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, `"annotations"`, identifier("annotations").Sanitize())
	assert.Equal(t, `"zooma"."annotations"`, identifier("zooma.annotations").Sanitize())
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"uri", "tag"`, quoteAndJoin([]string{"uri", "tag"}))
}
