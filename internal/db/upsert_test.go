package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "alerts",
		Columns:      []string{"id", "message"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "alerts",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "alerts",
		Columns: []string{"id", "message"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_IgnoreDups(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_alerts" \(LIKE "alerts" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_alerts"}, []string{"id", "message"}).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "alerts" \("id", "message"\) SELECT "id", "message" FROM "_tmp_upsert_alerts" ON CONFLICT \("id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "alerts",
		Columns:      []string{"id", "message"},
		ConflictKeys: []string{"id"},
		IgnoreDups:   true,
	}, [][]any{{"a", "x"}, {"b", "y"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL_UpdatesNonKeyColumns(t *testing.T) {
	got := upsertSQL(UpsertConfig{
		Table:        "credit.rollups",
		Columns:      []string{"day", "payload"},
		ConflictKeys: []string{"day"},
	}, "_tmp")
	assert.Equal(t,
		`INSERT INTO "credit"."rollups" ("day", "payload") SELECT "day", "payload" FROM "_tmp" ON CONFLICT ("day") DO UPDATE SET "payload" = EXCLUDED."payload"`,
		got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"credit.alerts", `"credit"."alerts"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
