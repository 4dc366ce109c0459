package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sixking/backend/internal/database"
	"github.com/sixking/backend/internal/migrations"
	"github.com/stretchr/testify/suite"
)

// PostgresSuite runs against a real database named by TEST_DATABASE_URL.
type PostgresSuite struct {
	suite.Suite
	ctx    context.Context
	db     *sqlx.DB
	ledger *Postgres
	player string
	match  string
}

func TestPostgresSuite(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	url := os.Getenv("TEST_DATABASE_URL")
	s.ctx = context.Background()
	s.Require().NoError(migrations.RunMigrations(url))
	db, err := database.Connect(s.ctx, url)
	s.Require().NoError(err)
	s.db = db
	s.ledger = NewPostgres(db, 1000)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PostgresSuite) SetupTest() {
	s.player = "player-" + uuid.NewString()
	s.match = uuid.NewString()
}

func (s *PostgresSuite) rows(kind Kind) int {
	var n int
	s.Require().NoError(s.db.GetContext(s.ctx, &n,
		`SELECT COUNT(*) FROM wallet_transactions WHERE player_id=$1 AND match_id=$2 AND kind=$3`,
		s.player, s.match, string(kind)))
	return n
}

func (s *PostgresSuite) TestUnknownPlayerHasStartingBalance() {
	bal, err := s.ledger.GetBalance(s.ctx, s.player)
	s.Require().NoError(err)
	s.Equal(int64(1000), bal)
}

func (s *PostgresSuite) TestDebitThenCredit() {
	bal, err := s.ledger.Debit(s.ctx, Entry{PlayerID: s.player, MatchID: s.match, Kind: KindStake, Amount: 100})
	s.Require().NoError(err)
	s.Equal(int64(900), bal)

	bal, err = s.ledger.Credit(s.ctx, Entry{PlayerID: s.player, MatchID: s.match, Kind: KindWin, Amount: 200})
	s.Require().NoError(err)
	s.Equal(int64(1100), bal)

	bal, err = s.ledger.GetBalance(s.ctx, s.player)
	s.Require().NoError(err)
	s.Equal(int64(1100), bal)
}

func (s *PostgresSuite) TestRepeatedEntryAppliesOnce() {
	e := Entry{PlayerID: s.player, MatchID: s.match, Kind: KindStake, Amount: 100}
	first, err := s.ledger.Debit(s.ctx, e)
	s.Require().NoError(err)
	again, err := s.ledger.Debit(s.ctx, e)
	s.Require().NoError(err)

	s.Equal(first, again)
	s.Equal(1, s.rows(KindStake))
	bal, _ := s.ledger.GetBalance(s.ctx, s.player)
	s.Equal(int64(900), bal)
}

func (s *PostgresSuite) TestInsufficientFundsLeavesNoTrace() {
	_, err := s.ledger.Debit(s.ctx, Entry{PlayerID: s.player, MatchID: s.match, Kind: KindStake, Amount: 5000})
	s.Require().ErrorIs(err, ErrInsufficientFunds)

	s.Equal(0, s.rows(KindStake))
	bal, _ := s.ledger.GetBalance(s.ctx, s.player)
	s.Equal(int64(1000), bal)
}

func (s *PostgresSuite) TestInvalidAmount() {
	_, err := s.ledger.Credit(s.ctx, Entry{PlayerID: s.player, MatchID: s.match, Kind: KindRefund, Amount: 0})
	s.ErrorIs(err, ErrInvalidAmount)
}

func (s *PostgresSuite) TestAnnotateRecordsZeroAmountOnce() {
	e := Entry{PlayerID: s.player, MatchID: s.match, Kind: KindLoss, Description: "Lost match"}
	s.Require().NoError(s.ledger.Annotate(s.ctx, e))
	s.Require().NoError(s.ledger.Annotate(s.ctx, e))

	s.Equal(1, s.rows(KindLoss))
	var amount int64
	s.Require().NoError(s.db.GetContext(s.ctx, &amount,
		`SELECT amount FROM wallet_transactions WHERE player_id=$1 AND match_id=$2 AND kind=$3`,
		s.player, s.match, string(KindLoss)))
	s.Zero(amount)
}
