package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/policy-scan-worker/internal/model"
)

func TestFindingInsert(t *testing.T) {
	chunk := []model.Finding{
		{Severity: model.SeverityCritical, Title: "Private API", GuidelineRef: "2.5.1"},
		{Severity: model.SeverityInfo, Title: "Large binary", Location: "Payload/App.app"},
	}
	sql, args := findingInsert("job-1", 100, chunk)

	require.Len(t, args, 2*findingCols)
	assert.Contains(t, sql, "($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9::jsonb), ($10::uuid")
	assert.Equal(t, 1, strings.Count(sql, "ON CONFLICT"))

	assert.Equal(t, "job-1", args[0])
	assert.Equal(t, 100, args[1])
	assert.Equal(t, "CRITICAL", args[2])
	assert.Nil(t, args[4], "empty description is stored as NULL")
	assert.Equal(t, "2.5.1", *args[5].(*string))
	assert.Equal(t, 101, args[findingCols+1])
	assert.Equal(t, "Payload/App.app", *args[findingCols+6].(*string))
	assert.Contains(t, args[findingCols+8], `"title":"Large binary"`)
}

func TestFindingInsertPlaceholdersMatchArgs(t *testing.T) {
	var chunk []model.Finding
	for i := 0; i < batchSize; i++ {
		chunk = append(chunk, model.Finding{Severity: model.SeverityWarning, Title: fmt.Sprint(i)})
	}
	sql, args := findingInsert("job", 0, chunk)
	assert.Contains(t, sql, fmt.Sprintf("$%d::jsonb)", len(args)))
	assert.NotContains(t, sql, fmt.Sprintf("$%d", len(args)+1))
}

func TestIsInsufficientPrivilege(t *testing.T) {
	assert.True(t, IsInsufficientPrivilege(fmt.Errorf("ensure: %w", &pgconn.PgError{Code: "42501"})))
	assert.False(t, IsInsufficientPrivilege(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsInsufficientPrivilege(errors.New("boom")))
}
