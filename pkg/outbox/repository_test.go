package outbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/db/dbtest"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/pagination"
)

func seedEvent(t *testing.T, client *db.Client, topic string, mutate func(*models.OutboxEvent)) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		Topic:         topic,
		EventType:     enums.EventOrderDecided,
		SchemaVersion: 1,
		Payload:       dbtypes.JSON(`{"eventId":"x"}`),
		Status:        enums.OutboxStatusPending,
		NextAttemptAt: testNow,
		CreatedAt:     testNow,
	}
	if mutate != nil {
		mutate(&row)
	}
	require.NoError(t, client.DB().Create(&row).Error)
	return row
}

func claim(t *testing.T, client *db.Client, repo *Repository, now time.Time, limit int) (uuid.UUID, []models.OutboxEvent) {
	t.Helper()
	token := uuid.New()
	var rows []models.OutboxEvent
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		rows, err = repo.ClaimPendingTx(tx, now, limit, token, now.Add(time.Minute))
		return err
	})
	require.NoError(t, err)
	return token, rows
}

func TestClaimPendingOrdersBySequenceAndSkipsUndue(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	first := seedEvent(t, client, "a", nil)
	second := seedEvent(t, client, "b", nil)
	seedEvent(t, client, "c", func(e *models.OutboxEvent) { e.NextAttemptAt = testNow.Add(time.Hour) })
	seedEvent(t, client, "d", func(e *models.OutboxEvent) { e.Status = enums.OutboxStatusPublished })
	seedEvent(t, client, "e", func(e *models.OutboxEvent) { e.Status = enums.OutboxStatusFailed })

	token, rows := claim(t, client, repo, testNow, 10)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, second.ID, rows[1].ID)
	assert.Less(t, rows[0].Sequence, rows[1].Sequence)
	require.NotNil(t, rows[0].ClaimToken)
	assert.Equal(t, token, *rows[0].ClaimToken)
}

func TestClaimLeaseExcludesConcurrentClaimers(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	seedEvent(t, client, "a", nil)
	seedEvent(t, client, "b", nil)

	_, firstBatch := claim(t, client, repo, testNow, 10)
	require.Len(t, firstBatch, 2)

	_, secondBatch := claim(t, client, repo, testNow.Add(30*time.Second), 10)
	assert.Empty(t, secondBatch, "leased rows are invisible until the lease lapses")

	_, afterExpiry := claim(t, client, repo, testNow.Add(2*time.Minute), 10)
	assert.Len(t, afterExpiry, 2, "an abandoned lease becomes claimable again")
}

func TestClaimRespectsLimit(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	for i := 0; i < 5; i++ {
		seedEvent(t, client, "a", nil)
	}
	_, rows := claim(t, client, repo, testNow, 3)
	assert.Len(t, rows, 3)

	_, none := claim(t, client, repo, testNow, 0)
	assert.Empty(t, none)
}

func TestClaimHoldsTopicBehindBackingOffPredecessor(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	seedEvent(t, client, "a", func(e *models.OutboxEvent) {
		e.NextAttemptAt = testNow.Add(10 * time.Second)
		e.AttemptCount = 1
	})
	blocked := seedEvent(t, client, "a", nil)
	other := seedEvent(t, client, "b", nil)

	_, rows := claim(t, client, repo, testNow, 10)
	require.Len(t, rows, 1)
	assert.Equal(t, other.ID, rows[0].ID)

	_, later := claim(t, client, repo, testNow.Add(10*time.Second), 10)
	require.Len(t, later, 2)
	assert.Equal(t, blocked.ID, later[1].ID)
}

func TestMarksRequireMatchingClaimToken(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	row := seedEvent(t, client, "a", nil)

	token, _ := claim(t, client, repo, testNow, 1)

	ok, err := repo.MarkPublished(ctx, row.ID, uuid.New(), testNow)
	require.NoError(t, err)
	assert.False(t, ok, "a stale token must not mark the row")

	ok, err = repo.RecordRetry(ctx, row.ID, token, testNow.Add(time.Second), "timeout")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Nil(t, stored.ClaimToken)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "timeout", *stored.LastError)

	ok, err = repo.MarkPublished(ctx, row.ID, token, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "retry released the claim")

	token2, _ := claim(t, client, repo, testNow.Add(time.Second), 1)
	ok, err = repo.MarkPublished(ctx, row.ID, token2, testNow.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPublished(ctx, row.ID, token2, testNow.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "published is terminal")
}

func TestMarkFailedAndRequeue(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	row := seedEvent(t, client, "a", func(e *models.OutboxEvent) { e.AttemptCount = 2 })
	token, _ := claim(t, client, repo, testNow, 1)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := repo.MarkFailedTx(tx, row.ID, token, testNow, "rejected")
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	failed, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OutboxStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.AttemptCount)
	assert.NotNil(t, failed.FailedAt)

	_, rows := claim(t, client, repo, testNow.Add(time.Hour), 10)
	assert.Empty(t, rows)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := repo.RequeueTx(tx, row.ID, testNow.Add(time.Hour))
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	requeued, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OutboxStatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.AttemptCount)
	assert.Nil(t, requeued.LastError)
	assert.Nil(t, requeued.FailedAt)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := repo.RequeueTx(tx, row.ID, testNow)
		assert.False(t, ok, "only failed rows requeue")
		return err
	})
	require.NoError(t, err)
}

func TestReleaseClaimsKeepsAttemptCount(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	row := seedEvent(t, client, "a", nil)
	token, _ := claim(t, client, repo, testNow, 1)

	require.NoError(t, repo.ReleaseClaims(ctx, token, []uuid.UUID{row.ID}))
	stored, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ClaimToken)
	assert.Nil(t, stored.ClaimedUntil)
	assert.Equal(t, 0, stored.AttemptCount)

	_, rows := claim(t, client, repo, testNow, 1)
	assert.Len(t, rows, 1)
}

func TestListFailedPagesNewestFirst(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		failedAt := testNow.Add(time.Duration(i) * time.Minute)
		seedEvent(t, client, "a", func(e *models.OutboxEvent) {
			e.Status = enums.OutboxStatusFailed
			e.FailedAt = &failedAt
		})
	}

	page, err := repo.ListFailed(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 3, "one row past the limit signals another page")
	assert.True(t, page[0].FailedAt.After(*page[1].FailedAt))

	cursor := &pagination.Cursor{At: *page[1].FailedAt, ID: page[1].ID}
	rest, err := repo.ListFailed(ctx, 2, cursor)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.True(t, rest[0].FailedAt.Equal(testNow))
}

func TestDeletePublishedBefore(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	old := testNow.Add(-48 * time.Hour)
	recent := testNow.Add(-time.Hour)
	seedEvent(t, client, "a", func(e *models.OutboxEvent) {
		e.Status = enums.OutboxStatusPublished
		e.PublishedAt = &old
	})
	seedEvent(t, client, "a", func(e *models.OutboxEvent) {
		e.Status = enums.OutboxStatusPublished
		e.PublishedAt = &recent
	})
	seedEvent(t, client, "a", func(e *models.OutboxEvent) {
		e.Status = enums.OutboxStatusPublished
		e.PublishedAt = &old
	})
	seedEvent(t, client, "a", nil)

	deleteBatch := func() int64 {
		var deleted int64
		err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			var err error
			deleted, err = repo.DeletePublishedBefore(tx, testNow.Add(-24*time.Hour), 1)
			return err
		})
		require.NoError(t, err)
		return deleted
	}
	assert.Equal(t, int64(1), deleteBatch())
	assert.Equal(t, int64(1), deleteBatch())
	assert.Equal(t, int64(0), deleteBatch())

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[enums.OutboxStatusPublished])
	assert.Equal(t, int64(1), counts[enums.OutboxStatusPending])
}

func TestNextDue(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	due, err := repo.NextDue(ctx, testNow)
	require.NoError(t, err)
	assert.True(t, due.IsZero(), "empty outbox has nothing waiting")

	backoff := testNow.Add(4 * time.Second)
	lease := testNow.Add(2 * time.Second)
	seedEvent(t, client, "a", nil)
	seedEvent(t, client, "a", func(e *models.OutboxEvent) { e.NextAttemptAt = backoff })
	seedEvent(t, client, "b", func(e *models.OutboxEvent) {
		token := uuid.New()
		e.ClaimToken = &token
		e.ClaimedUntil = &lease
	})
	seedEvent(t, client, "c", func(e *models.OutboxEvent) {
		e.Status = enums.OutboxStatusFailed
		e.NextAttemptAt = testNow.Add(time.Second)
	})

	due, err = repo.NextDue(ctx, testNow)
	require.NoError(t, err)
	assert.True(t, due.Equal(lease), "expected lease expiry %s, got %s", lease, due)

	due, err = repo.NextDue(ctx, lease)
	require.NoError(t, err)
	assert.True(t, due.Equal(backoff), "expected backoff end %s, got %s", backoff, due)
}

// openPostgres connects to the database named by EVENTRELAY_TEST_DB_DSN and
// skips the test when it is unset. The outbox table is recreated empty.
func openPostgres(t *testing.T) *db.Client {
	t.Helper()
	dsn := os.Getenv("EVENTRELAY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("EVENTRELAY_TEST_DB_DSN is not set")
	}
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn, Driver: db.DriverPostgres}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := client.DB()
	require.NoError(t, conn.Migrator().DropTable(&models.OutboxEvent{}))
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return client
}

func TestConcurrentClaimsKeepTopicOnOneInstance(t *testing.T) {
	client := openPostgres(t)
	repo := NewRepository(client.DB())
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		seedEvent(t, client, "x", func(e *models.OutboxEvent) {
			e.NextAttemptAt = now.Add(-time.Minute)
			e.CreatedAt = now.Add(-time.Minute)
		})
	}

	first := client.DB().Begin()
	require.NoError(t, first.Error)
	held, err := repo.ClaimPendingTx(first, now, 2, uuid.New(), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, held, 2)

	type claimResult struct {
		rows []models.OutboxEvent
		err  error
	}
	second := make(chan claimResult, 1)
	go func() {
		var rows []models.OutboxEvent
		err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			var err error
			rows, err = repo.ClaimPendingTx(tx, now, 10, uuid.New(), now.Add(time.Minute))
			return err
		})
		second <- claimResult{rows: rows, err: err}
	}()

	select {
	case res := <-second:
		t.Fatalf("second claim finished while the first was open: %+v", res)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, first.Commit().Error)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Empty(t, res.rows, "rows behind a leased predecessor must wait")
	case <-time.After(5 * time.Second):
		t.Fatal("second claim never finished")
	}
}
