//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/migration"
	"github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "folio",
				"POSTGRES_PASSWORD": "folio",
				"POSTGRES_DB":       "folio",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=folio password=folio dbname=folio sslmode=disable", host, port.Port())
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, migration.Apply(db))
	return db
}

func TestPostgresConcurrentDownloadsRespectQuota(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	node := testutil.NewNode(t)
	repo := repository.Provide()

	book := testutil.SeedBook(t, db, node, "Dune", 500)
	p := testutil.SeedPurchase(t, db, node, testutil.PurchaseSeed{
		Status: domain.StatusCompleted,
		Books:  []catalogdomain.Book{book},
	})
	itemID := p.Items[0].ID

	const (
		attempts     = 20
		maxDownloads = 5
	)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RecordDownload(ctx, db, itemID, &domain.DownloadLog{
				ID:         ulid.Make().String(),
				PurchaseID: p.ID,
				BookID:     book.ID,
				CreatedAt:  time.Now().UTC(),
			}, maxDownloads)
			if err != nil {
				t.Errorf("record download: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxDownloads, applied)
	logs, err := repo.ListDownloads(ctx, db, p.ID)
	require.NoError(t, err)
	assert.Len(t, logs, maxDownloads)
}

func TestPostgresConcurrentTransitionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	node := testutil.NewNode(t)
	repo := repository.Provide()

	book := testutil.SeedBook(t, db, node, "Emma", 300)
	p := testutil.SeedPurchase(t, db, node, testutil.PurchaseSeed{
		SessionID: "cs_race",
		Books:     []catalogdomain.Book{book},
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			confirmation := fmt.Sprintf("pi_%d", i)
			ok, err := repo.Transition(ctx, db, domain.TransitionParams{
				ID:             p.ID,
				From:           domain.StatusPending,
				To:             domain.StatusCompleted,
				ConfirmationID: &confirmation,
				At:             time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	found, err := repo.FindByID(ctx, db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, found.Status)
	require.NotNil(t, found.PaymentConfirmationID)
}
