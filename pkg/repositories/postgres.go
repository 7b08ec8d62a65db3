package repositories

import (
	"context"
	"errors"
	"fmt"

	gametypes "github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/messages"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository and applies the migrations in
// the given directory. An empty migrations path skips them.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (Repository, error) {
	pool, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	r := &PostgresRepository{
		pool: pool,
	}
	if migrations != "" {
		if err := r.migrate(ctx, migrations); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return r, nil
}

func connectDb(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	return pool, nil
}

func (r *PostgresRepository) migrate(_ context.Context, migrations string) error {
	// the migration driver needs database/sql, which pgx provides over the same pool
	db := stdlib.OpenDBFromPool(r.pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %v", err)
	}
	return migrateUp(migrations, "pgx5", driver)
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) SaveGameState(ctx context.Context, gameState *gametypes.GameState) error {
	if gameState == nil {
		return fmt.Errorf("game state is nil")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var target *decimal.Decimal
	if gameState.Target != nil {
		t := numeric(*gameState.Target)
		target = &t
	}

	q := `
	INSERT INTO games (game_id, created_at, updated_at, phase, sum, target, winner, is_complete)
	VALUES ($1, $2, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (game_id) DO UPDATE SET updated_at = $2, phase = $3, sum = $4, target = $5, winner = $6, is_complete = $7;
	`
	_, err = tx.Exec(ctx, q, gameState.GameID, gameState.Timestamp, int16(gameState.Phase),
		numeric(gameState.Sum), target, gameState.Winner, gameState.IsComplete)
	if err != nil {
		return fmt.Errorf("failed to insert game: %v", err)
	}

	batch := &pgx.Batch{}
	for playerID, amount := range gameState.Deposits {
		batch.Queue(`
		INSERT INTO deposits (game_id, player_id, amount, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, player_id) DO UPDATE SET amount = $3, updated_at = $4;
		`, gameState.GameID, playerID, numeric(amount), gameState.Timestamp)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert deposits: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *PostgresRepository) SaveSignal(ctx context.Context, signal *gametypes.Signal) error {
	frame, err := messages.SerializeSignal(signal)
	if err != nil {
		return fmt.Errorf("failed to serialize signal: %v", err)
	}

	q := `
	INSERT INTO signals (game_id, seq, type, timestamp, frame) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (game_id, seq) DO NOTHING;
	`
	_, err = r.pool.Exec(ctx, q, signal.GameID, int64(signal.Seq), int16(signal.Type), signal.Timestamp, frame)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %v", err)
	}

	return nil
}

func (r *PostgresRepository) ListSignals(ctx context.Context, gameID string, after uint64, limit int) ([]gametypes.Signal, error) {
	if limit <= 0 {
		limit = DefaultSignalLimit
	}

	q := `
	SELECT frame FROM signals WHERE game_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3;
	`
	rows, err := r.pool.Query(ctx, q, gameID, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %v", err)
	}
	frames, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to scan signals: %v", err)
	}

	signals := make([]gametypes.Signal, 0, len(frames))
	for _, frame := range frames {
		signal, err := messages.DeserializeSignal(frame)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signal: %v", err)
		}
		signals = append(signals, *signal)
	}

	return signals, nil
}

func (r *PostgresRepository) LoadGameState(ctx context.Context, gameID string) (*gametypes.GameState, error) {
	q := `
	SELECT updated_at, phase, sum, target, winner, is_complete FROM games WHERE game_id = $1;
	`
	var (
		phase  int16
		sum    decimal.Decimal
		target decimal.NullDecimal
	)
	gameState := &gametypes.GameState{
		GameID:   gameID,
		Deposits: make(map[string]uint64),
	}
	err := r.pool.QueryRow(ctx, q, gameID).Scan(&gameState.Timestamp, &phase, &sum, &target, &gameState.Winner, &gameState.IsComplete)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan game: %v", err)
	}
	gameState.Phase = gametypes.Phase(phase)
	if gameState.Sum, err = fromNumeric(sum); err != nil {
		return nil, err
	}
	if target.Valid {
		t, err := fromNumeric(target.Decimal)
		if err != nil {
			return nil, err
		}
		gameState.Target = &t
	}

	rows, err := r.pool.Query(ctx, `SELECT player_id, amount FROM deposits WHERE game_id = $1;`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var playerID string
		var amount decimal.Decimal
		if err := rows.Scan(&playerID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %v", err)
		}
		if gameState.Deposits[playerID], err = fromNumeric(amount); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deposits: %v", err)
	}

	return gameState, nil
}
