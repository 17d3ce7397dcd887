package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayakoyan/marketplace-backend/pkg/db/dbtest"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

func seedEvent(t *testing.T, repo *Repository, aggregateID uint64) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Payload:       json.RawMessage(`{"version":1}`),
	}
	require.NoError(t, repo.Insert(repo.db, row))
	return row
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	first := seedEvent(t, repo, 1)
	second := seedEvent(t, repo, 2)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New(strings.Repeat("x", 2000))))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", second.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Len(t, *stored.LastError, maxLastErrorLen)

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("bad payload"), 3))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := seedEvent(t, repo, 1)
	recent := seedEvent(t, repo, 2)
	pending := seedEvent(t, repo, 3)

	now := time.Now().UTC()
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old.ID).Update("published_at", now.Add(-10*24*time.Hour)).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", recent.ID).Update("published_at", now).Error)

	deleted, err := repo.DeletePublishedBefore(context.Background(), now.Add(-7*24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("aggregate_id").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, recent.ID, remaining[0].ID)
	assert.Equal(t, pending.ID, remaining[1].ID)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	msg := strings.Repeat("e", 5000)
	require.NoError(t, NewDLQRepository().InsertTx(conn, models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   4,
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
	}))
	var stored models.OutboxDLQ
	require.NoError(t, conn.First(&stored).Error)
	assert.NotEqual(t, uuid.Nil, stored.ID)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxLastErrorLen)
}
