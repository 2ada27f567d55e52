package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/obslog"
)

//go:embed schema.sql
var schemaSQL string

var ErrNotFound = errors.New("archived game not found")

// Repository stores finished games. postgres:// URLs use lib/pq; anything
// else is taken as a sqlite path (":memory:" included).
type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	driver, dsn := driverFor(databaseURL)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	obslog.L().Info("archive_opened", zap.String("driver", driver))
	return &Repository{db: db}, nil
}

func driverFor(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://")
	default:
		return "sqlite3", url
	}
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished game. A nil repository is a no-op.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	movesRaw, err := json.Marshal(rec.MovesSAN)
	if err != nil {
		return err
	}
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO finished_games (
        game_url, name, white_id, white_name, black_id, black_name,
        start_position, result, result_method, moves_san, final_fen, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_url) DO UPDATE SET
        name=EXCLUDED.name,
        white_id=EXCLUDED.white_id,
        white_name=EXCLUDED.white_name,
        black_id=EXCLUDED.black_id,
        black_name=EXCLUDED.black_name,
        start_position=EXCLUDED.start_position,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        moves_san=EXCLUDED.moves_san,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		rec.Game, rec.Name,
		rec.White, rec.WhiteName,
		rec.Black, rec.BlackName,
		rec.StartPosition, rec.Result, strings.TrimSpace(rec.Method),
		string(movesRaw), rec.FinalFEN, PGN(rec),
		rec.StartedAt.UTC(), rec.EndedAt.UTC(), duration,
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.Game, err)
	}
	obslog.L().Info("game_archived", zap.String("game", rec.Game), zap.String("result", rec.Result))
	return nil
}

// Get returns the archived record and its stored PGN.
func (r *Repository) Get(ctx context.Context, gameURL string) (Record, string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT game_url, name, white_id, white_name, black_id, black_name,
        start_position, result, result_method, moves_san, final_fen, pgn, started_at, ended_at
      FROM finished_games WHERE game_url = $1`, gameURL)
	var (
		rec      Record
		movesRaw string
		pgn      string
	)
	err := row.Scan(&rec.Game, &rec.Name, &rec.White, &rec.WhiteName, &rec.Black, &rec.BlackName,
		&rec.StartPosition, &rec.Result, &rec.Method, &movesRaw, &rec.FinalFEN, &pgn, &rec.StartedAt, &rec.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, "", fmt.Errorf("%s: %w", gameURL, ErrNotFound)
	}
	if err != nil {
		return Record{}, "", err
	}
	if err := json.Unmarshal([]byte(movesRaw), &rec.MovesSAN); err != nil {
		return Record{}, "", fmt.Errorf("decode moves of %s: %w", gameURL, err)
	}
	return rec, pgn, nil
}
