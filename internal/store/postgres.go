package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uenogami/stock-trading-game/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Coefficients are stored as NUMERIC for exact decimal precision;
// holdings are a JSONB symbol→quantity map.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	holdings, err := json.Marshal(p.Holdings)
	if err != nil {
		return fmt.Errorf("marshal holdings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO players (id, name, pin, cash, holdings, insurance_used, version, created_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8)`,
		p.ID, p.Name, p.PIN, p.Cash, holdings, p.InsuranceUsed, p.Version, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, pin, cash, holdings, insurance_used, version, created_at
		 FROM players WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, model.ErrNotFound)
	}
	return p, err
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, pin, cash, holdings, insurance_used, version, created_at
		 FROM players ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	holdings, err := json.Marshal(p.Holdings)
	if err != nil {
		return fmt.Errorf("marshal holdings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE players
		 SET cash = $3, holdings = $4::JSONB, insurance_used = $5, version = version + 1
		 WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.Cash, holdings, p.InsuranceUsed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PostgresStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO symbols (symbol, name, base_price, coefficient, max_holdings, price, volume, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		sym.Symbol, sym.Name, sym.BasePrice, sym.Coefficient.String(),
		sym.MaxHoldings, sym.Price, sym.Volume, sym.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetSymbol(ctx context.Context, code string) (*model.Symbol, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT symbol, name, base_price, coefficient::TEXT, max_holdings, price, volume, updated_at
		 FROM symbols WHERE symbol = $1`, code)
	sym, err := scanSymbol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("symbol %s: %w", code, model.ErrNotFound)
	}
	return sym, err
}

func (s *PostgresStore) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, base_price, coefficient::TEXT, max_holdings, price, volume, updated_at
		 FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []model.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, *sym)
	}
	return symbols, rows.Err()
}

func (s *PostgresStore) UpdateSymbolQuote(ctx context.Context, code string, price, volume int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE symbols SET price = $2, volume = $3, updated_at = now() WHERE symbol = $1`,
		code, price, volume,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("symbol %s: %w", code, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, player_id, symbol, side, quantity, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.PlayerID, t.Symbol, t.Side, t.Quantity, t.Price, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, symbol, side, quantity, price, created_at
		 FROM trades WHERE symbol = $1 ORDER BY created_at, id`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.PlayerID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) FirstTrade(ctx context.Context) (*model.Trade, error) {
	var t model.Trade
	err := s.pool.QueryRow(ctx,
		`SELECT id, player_id, symbol, side, quantity, price, created_at
		 FROM trades ORDER BY created_at, id LIMIT 1`).
		Scan(&t.ID, &t.PlayerID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) LastTradeByPlayer(ctx context.Context, playerID string) (*model.Trade, error) {
	var t model.Trade
	err := s.pool.QueryRow(ctx,
		`SELECT id, player_id, symbol, side, quantity, price, created_at
		 FROM trades WHERE player_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, playerID).
		Scan(&t.ID, &t.PlayerID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) GetCardGrant(ctx context.Context, playerID, cardID string) (*model.CardGrant, error) {
	var g model.CardGrant
	err := s.pool.QueryRow(ctx,
		`SELECT player_id, card_id, purchased, active, expires_at, updated_at
		 FROM card_grants WHERE player_id = $1 AND card_id = $2`, playerID, cardID).
		Scan(&g.PlayerID, &g.CardID, &g.Purchased, &g.Active, &g.ExpiresAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) ListCardGrantsByPlayer(ctx context.Context, playerID string) ([]model.CardGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, card_id, purchased, active, expires_at, updated_at
		 FROM card_grants WHERE player_id = $1 ORDER BY card_id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanGrants(rows)
}

func (s *PostgresStore) ListGrantsByCard(ctx context.Context, cardID string) ([]model.CardGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, card_id, purchased, active, expires_at, updated_at
		 FROM card_grants WHERE card_id = $1 ORDER BY player_id`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanGrants(rows)
}

func (s *PostgresStore) UpsertCardGrant(ctx context.Context, g *model.CardGrant) error {
	g.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO card_grants (player_id, card_id, purchased, active, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (player_id, card_id)
		 DO UPDATE SET purchased = $3, active = $4, expires_at = $5, updated_at = $6`,
		g.PlayerID, g.CardID, g.Purchased, g.Active, g.ExpiresAt, g.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ExpireCardGrants(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE card_grants SET active = FALSE, updated_at = $1
		 WHERE active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, p *model.TimelinePost) error {
	fillPost(p)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO timeline_posts (id, player_id, author, category, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.PlayerID, p.Author, p.Category, p.Body, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListPosts(ctx context.Context, limit int) ([]model.TimelinePost, error) {
	// limit <= 0 means no limit, matching the other implementations.
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, author, category, body, created_at
		 FROM timeline_posts ORDER BY created_at DESC, id DESC
		 LIMIT NULLIF($1, 0)`, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.TimelinePost
	for rows.Next() {
		var p model.TimelinePost
		if err := rows.Scan(&p.ID, &p.PlayerID, &p.Author, &p.Category, &p.Body, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// InsertEventMarker inserts the marker only when absent; the conditional
// INSERT is the idempotency lock, so a zero row count means another actor
// already applied the event.
func (s *PostgresStore) InsertEventMarker(ctx context.Context, p *model.TimelinePost, since time.Time) error {
	fillPost(p)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO timeline_posts (id, player_id, author, category, body, created_at)
		 SELECT $1, $2, $3, $4, $5, $6
		 WHERE NOT EXISTS (
		     SELECT 1 FROM timeline_posts
		     WHERE category = $4 AND body = $5 AND created_at >= $7
		 )`,
		p.ID, p.PlayerID, p.Author, p.Category, p.Body, p.CreatedAt, since,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyApplied
	}
	return nil
}

func fillPost(p *model.TimelinePost) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanPlayer(row pgxRow) (*model.Player, error) {
	var p model.Player
	var holdings []byte
	if err := row.Scan(&p.ID, &p.Name, &p.PIN, &p.Cash, &holdings, &p.InsuranceUsed, &p.Version, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(holdings) > 0 {
		if err := json.Unmarshal(holdings, &p.Holdings); err != nil {
			return nil, fmt.Errorf("unmarshal holdings: %w", err)
		}
	}
	if p.Holdings == nil {
		p.Holdings = map[string]int64{}
	}
	return &p, nil
}

func scanSymbol(row pgxRow) (*model.Symbol, error) {
	var sym model.Symbol
	var coefficient string
	if err := row.Scan(&sym.Symbol, &sym.Name, &sym.BasePrice, &coefficient,
		&sym.MaxHoldings, &sym.Price, &sym.Volume, &sym.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := decimal.NewFromString(coefficient)
	if err != nil {
		return nil, fmt.Errorf("parse coefficient: %w", err)
	}
	sym.Coefficient = c
	return &sym, nil
}

func scanGrants(rows pgx.Rows) ([]model.CardGrant, error) {
	var grants []model.CardGrant
	for rows.Next() {
		var g model.CardGrant
		if err := rows.Scan(&g.PlayerID, &g.CardID, &g.Purchased, &g.Active, &g.ExpiresAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
