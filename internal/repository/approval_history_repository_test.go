package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hospital-admin-api/internal/models"
)

func TestApprovalHistoryRepositoryRecordEvent(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalHistoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_history")).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordEvent(context.Background(), models.ApprovalEvent{
		RequestID: "req-1",
		EventType: models.EventRequestCreated,
		NewValue:  "PENDING",
		Actor:     "u1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalHistoryRepositoryListByRequest(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalHistoryRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "request_id", "line_id", "event_type", "old_value", "new_value", "actor", "created_at"}).
		AddRow("e1", "req-1", nil, "REQUEST_CREATED", "", "PENDING", "u1", now).
		AddRow("e2", "req-1", "l1", "LINE_APPROVED", "PENDING", "APPROVED", "alice", now.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_history WHERE request_id = $1 ORDER BY created_at, id")).
		WithArgs("req-1").
		WillReturnRows(rows)

	events, err := repo.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].LineID)
	require.NotNil(t, events[1].LineID)
	assert.Equal(t, "l1", *events[1].LineID)
	assert.Equal(t, models.EventLineApproved, events[1].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
