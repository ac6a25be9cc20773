package journal

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"

    "github.com/park285/chess-autopilot/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS autopilot_cycles (
    cycle_id     TEXT PRIMARY KEY,
    fen          TEXT NOT NULL,
    placement    TEXT NOT NULL,
    side_to_move TEXT NOT NULL,
    local_color  TEXT NOT NULL,
    best_move    TEXT NOT NULL DEFAULT '',
    move_san     TEXT NOT NULL DEFAULT '',
    evaluation   DOUBLE PRECISION,
    board        TEXT NOT NULL DEFAULT '',
    flipped      BOOLEAN NOT NULL DEFAULT FALSE,
    outcome      TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL
)`

// Repository appends cycle records to Postgres. A nil *Repository discards records.
type Repository struct {
    db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(4)
    db.SetMaxIdleConns(2)
    db.SetConnMaxLifetime(30 * time.Minute)
    pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pingCtx); err != nil {
        _ = db.Close()
        return nil, err
    }
    r := &Repository{db: db}
    if err := r.EnsureSchema(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return r, nil
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    if _, err := r.db.ExecContext(ctx, schema); err != nil {
        return fmt.Errorf("ensure schema: %w", err)
    }
    return nil
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// Record upserts one cycle.
func (r *Repository) Record(ctx context.Context, c domain.CycleRecord) error {
    if r == nil || r.db == nil {
        return nil
    }
    q, args := insertStatement(c)
    _, err := r.db.ExecContext(ctx, q, args...)
    return err
}

func insertStatement(c domain.CycleRecord) (string, []any) {
    q := `INSERT INTO autopilot_cycles (
        cycle_id, fen, placement, side_to_move, local_color,
        best_move, move_san, evaluation, board, flipped,
        outcome, error, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (cycle_id) DO UPDATE SET
        best_move=EXCLUDED.best_move,
        move_san=EXCLUDED.move_san,
        evaluation=EXCLUDED.evaluation,
        outcome=EXCLUDED.outcome,
        error=EXCLUDED.error,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    var eval sql.NullFloat64
    if c.Evaluation != nil {
        eval = sql.NullFloat64{Float64: *c.Evaluation, Valid: true}
    }
    args := []any{
        c.ID, c.FEN, c.Placement, c.SideToMove, c.LocalColor,
        c.BestMove, c.MoveSAN, eval, c.Board, c.Flipped,
        string(c.Outcome), truncate(c.Error, 1024), c.StartedAt, c.EndedAt, c.Duration().Milliseconds(),
    }
    return q, args
}

func truncate(s string, n int) string {
    if len(s) <= n { return s }
    return s[:n]
}
