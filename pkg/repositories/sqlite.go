package repositories

import (
	"context"
	"database/sql"
	"fmt"

	gametypes "github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/messages"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// a single connection keeps in-memory databases shared and serializes writers
	db.SetMaxOpenConns(1)

	driver, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %v", err)
	}
	if err := migrateUp(migrations, "sqlite3", driver); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveGameState(ctx context.Context, gameState *gametypes.GameState) error {
	if gameState == nil {
		return fmt.Errorf("game state is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	var target *decimal.Decimal
	if gameState.Target != nil {
		t := numeric(*gameState.Target)
		target = &t
	}

	q := `
	INSERT OR REPLACE INTO games (game_id, updated_at, phase, sum, target, winner, is_complete)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`
	_, err = tx.ExecContext(ctx, q, gameState.GameID, gameState.Timestamp, uint8(gameState.Phase),
		numeric(gameState.Sum), target, gameState.Winner, gameState.IsComplete)
	if err != nil {
		return fmt.Errorf("failed to insert game: %v", err)
	}

	for playerID, amount := range gameState.Deposits {
		q := `
		INSERT OR REPLACE INTO deposits (game_id, player_id, amount, updated_at)
		VALUES (?, ?, ?, ?);
		`
		_, err = tx.ExecContext(ctx, q, gameState.GameID, playerID, numeric(amount), gameState.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert deposit: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) SaveSignal(ctx context.Context, signal *gametypes.Signal) error {
	frame, err := messages.SerializeSignal(signal)
	if err != nil {
		return fmt.Errorf("failed to serialize signal: %v", err)
	}

	q := `
	INSERT OR IGNORE INTO signals (game_id, seq, type, timestamp, frame)
	VALUES (?, ?, ?, ?, ?);
	`
	_, err = r.db.ExecContext(ctx, q, signal.GameID, int64(signal.Seq), uint8(signal.Type), signal.Timestamp, frame)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) ListSignals(ctx context.Context, gameID string, after uint64, limit int) ([]gametypes.Signal, error) {
	if limit <= 0 {
		limit = DefaultSignalLimit
	}

	q := `
	SELECT frame FROM signals WHERE game_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, gameID, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %v", err)
	}
	defer rows.Close()

	signals := make([]gametypes.Signal, 0)
	for rows.Next() {
		var frame []byte
		if err := rows.Scan(&frame); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %v", err)
		}
		signal, err := messages.DeserializeSignal(frame)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signal: %v", err)
		}
		signals = append(signals, *signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signals: %v", err)
	}

	return signals, nil
}

func (r *SQLiteRepository) LoadGameState(ctx context.Context, gameID string) (*gametypes.GameState, error) {
	q := `
	SELECT updated_at, phase, sum, target, winner, is_complete FROM games WHERE game_id = ?;
	`
	var (
		phase  uint8
		sum    decimal.Decimal
		target decimal.NullDecimal
	)
	gameState := &gametypes.GameState{
		GameID:   gameID,
		Deposits: make(map[string]uint64),
	}
	err := r.db.QueryRowContext(ctx, q, gameID).Scan(&gameState.Timestamp, &phase, &sum, &target, &gameState.Winner, &gameState.IsComplete)
	if err != nil {
		if err == sql.ErrNoRows {
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

	rows, err := r.db.QueryContext(ctx, `SELECT player_id, amount FROM deposits WHERE game_id = ?;`, gameID)
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

	return gameState, rows.Err()
}
