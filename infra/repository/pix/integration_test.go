package pixrepo_test

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amirasaad/pixflow/infra"
	pixrepo "github.com/amirasaad/pixflow/infra/repository/pix"
	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func dockerIsReachable() bool {
	host := os.Getenv("DOCKER_HOST")
	if strings.HasPrefix(host, "unix://") {
		host = strings.TrimPrefix(host, "unix://")
	} else if host != "" {
		return true
	} else {
		host = "/var/run/docker.sock"
	}
	conn, err := net.DialTimeout("unix", host, 300*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PostgresSuite runs the gorm repository against a real PostgreSQL with the
// embedded migrations applied.
type PostgresSuite struct {
	suite.Suite
	pg   *tcpostgres.PostgresContainer
	db   *gorm.DB
	repo repo.Repository
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() || !dockerIsReachable() {
		t.Skip("docker is not reachable")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	pg, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pixflow"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.pg = pg

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = infra.NewDBConnection(&config.DB{
		Url:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, "test")
	s.Require().NoError(err)

	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	s.Require().NoError(infra.MigrateUp(sqlDB, nil))
	version, dirty, err := infra.MigrationVersion(sqlDB)
	s.Require().NoError(err)
	s.Equal(uint(1), version)
	s.False(dirty)

	s.repo = pixrepo.New(s.db)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pg != nil {
		_ = s.pg.Terminate(context.Background())
	}
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.db.Exec("TRUNCATE pix_transactions").Error)
}

func (s *PostgresSuite) charge(owner string, amount int64, expiresAt time.Time) *pix.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	tx := &pix.Transaction{
		ID:              uuid.New(),
		Txid:            pix.NewTxid(),
		Type:            pix.TypeCharge,
		Status:          pix.StatusPending,
		Amount:          amount,
		CounterpartyKey: "receiver@example.com",
		Description:     "pedido",
		Payer:           &pix.Party{Name: "Joana Silva"},
		ExpiresAt:       &expiresAt,
		OwnerID:         owner,
		Origin:          pix.OriginGateway,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.Require().NoError(s.repo.Create(context.Background(), tx))
	return tx
}

func (s *PostgresSuite) TestCreateAndFind() {
	ctx := context.Background()
	tx := s.charge("alice", 1500, time.Now().Add(time.Hour))

	got, err := s.repo.FindByTxid(ctx, tx.Txid)
	s.Require().NoError(err)
	s.Equal(tx.ID, got.ID)
	s.Require().NotNil(got.Payer)
	s.Equal("Joana Silva", got.Payer.Name)

	dup := *tx
	dup.ID = uuid.New()
	s.ErrorIs(s.repo.Create(ctx, &dup), domain.ErrDuplicateTxid)

	_, err = s.repo.FindByID(ctx, uuid.New())
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *PostgresSuite) TestConditionalUpdateHasOneWinner() {
	ctx := context.Background()
	tx := s.charge("alice", 100, time.Now().Add(time.Hour))
	paidAt := time.Now().UTC()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.repo.ConditionalUpdateStatus(ctx, tx.ID, pix.StatusPending, pix.StatusPaid,
				repo.Changes{PaidAt: &paidAt, EndToEndID: "E1"})
			s.NoError(err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)

	got, err := s.repo.FindByID(ctx, tx.ID)
	s.Require().NoError(err)
	s.Equal(pix.StatusPaid, got.Status)
	s.Equal("E1", got.EndToEndID)
}

func (s *PostgresSuite) TestMarkExpiredBatch() {
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	for range 3 {
		s.charge("alice", 100, past)
	}
	fresh := s.charge("alice", 100, time.Now().Add(time.Hour))

	first, err := s.repo.MarkExpiredBatch(ctx, time.Now(), 2)
	s.Require().NoError(err)
	s.Len(first, 2)
	s.Equal("alice", first[0].OwnerID)
	s.Equal(int64(100), first[0].Amount)
	second, err := s.repo.MarkExpiredBatch(ctx, time.Now(), 2)
	s.Require().NoError(err)
	s.Len(second, 1)
	s.NotEqual(first[0].ID, second[0].ID)

	got, err := s.repo.FindByID(ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(pix.StatusPending, got.Status)

	pending, err := s.repo.FindPendingForSync(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *PostgresSuite) TestFiltersAndStats() {
	ctx := context.Background()
	s.charge("alice", 100, time.Now().Add(time.Hour))
	s.charge("alice", 250, time.Now().Add(time.Hour))
	s.charge("bob", 900, time.Now().Add(time.Hour))

	items, total, err := s.repo.FindWithFilters(ctx, repo.Filter{OwnerID: "alice", Search: "joana", Limit: 1})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(items, 1)

	stats, err := s.repo.Stats(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(2), stats.Count)
	s.Equal(int64(350), stats.TotalAmount)
	s.Equal(int64(2), stats.ByStatus[pix.StatusPending].Count)
}
