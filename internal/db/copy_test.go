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

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "annotation_tags", []string{"annotation_uri", "tag"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"annotation_tags"}, []string{"annotation_uri", "tag"}).WillReturnResult(3)

	rows := [][]any{{"a1", "t1"}, {"a1", "t2"}, {"a2", "t1"}}
	n, err := CopyFrom(context.Background(), mock, "annotation_tags", []string{"annotation_uri", "tag"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"zooma", "annotations"}, []string{"uri"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "zooma.annotations", []string{"uri"}, [][]any{{"a1"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"annotation_tags"}, []string{"tag"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "annotation_tags", []string{"tag"}, [][]any{{"t1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO annotation_tags")
	assert.NoError(t, mock.ExpectationsWereMet())
}
