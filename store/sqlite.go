// Package store is the durable sqlite layer: candles, news features, order
// intents, approvals, executions, fills, trade results and the audit log.
// Writes that must land together (an execution plus its intent status change)
// share one transaction; everything else is idempotent or append-only.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/pkg/id"
)

var (
	// ErrIntentNotFound reports a lookup miss for an intent id.
	ErrIntentNotFound = errors.New("intent not found")
	// ErrBadTransition reports an illegal intent status transition.
	ErrBadTransition = errors.New("illegal intent status transition")
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func isoNow() string { return intent.ISOTime(time.Now()) }

// --- candles ---

// SaveCandles inserts candles idempotently; re-inserting an existing
// (symbol, timeframe, ts) row is a no-op. Returns the number actually added.
func (s *Store) SaveCandles(candles []market.Candle) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO candles
		(symbol, timeframe, ts, open, high, low, close, volume, source, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	ingested := isoNow()
	added := 0
	for _, c := range candles {
		res, err := stmt.Exec(c.Symbol, c.Timeframe, c.TS, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source, ingested)
		if err != nil {
			return 0, fmt.Errorf("insert candle: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}

func scanCandles(rows *sql.Rows) ([]market.Candle, error) {
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Candles returns up to limit most recent candles, oldest first.
func (s *Store) Candles(symbol, timeframe string, limit int) ([]market.Candle, error) {
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, ts, open, high, low, close, volume, source
		FROM (
			SELECT * FROM candles WHERE symbol = ? AND timeframe = ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows)
}

// CandlesBetween returns candles in [startMs, endMs], oldest first.
func (s *Store) CandlesBetween(symbol, timeframe string, startMs, endMs int64) ([]market.Candle, error) {
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, ts, open, high, low, close, volume, source
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows)
}

// LatestCandle returns the newest candle for a symbol/timeframe.
func (s *Store) LatestCandle(symbol, timeframe string) (market.Candle, bool, error) {
	out, err := s.Candles(symbol, timeframe, 1)
	if err != nil || len(out) == 0 {
		return market.Candle{}, false, err
	}
	return out[0], true, nil
}

// --- orderbook snapshots ---

// SaveOrderbook appends a top-of-book snapshot.
func (s *Store) SaveOrderbook(ob market.Orderbook) error {
	_, err := s.db.Exec(`
		INSERT INTO orderbook_snapshots
		(symbol, ts, bid, ask, bid_size, ask_size, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ob.Symbol, intent.ISOTime(ob.TS), ob.Bid, ob.Ask, ob.BidSize, ob.AskSize, isoNow())
	return err
}

// LatestOrderbook returns the most recent snapshot for a symbol.
func (s *Store) LatestOrderbook(symbol string) (market.Orderbook, bool, error) {
	row := s.db.QueryRow(`
		SELECT symbol, ts, bid, ask, bid_size, ask_size
		FROM orderbook_snapshots WHERE symbol = ?
		ORDER BY ts DESC LIMIT 1`, symbol)

	var ob market.Orderbook
	var ts string
	err := row.Scan(&ob.Symbol, &ts, &ob.Bid, &ob.Ask, &ob.BidSize, &ob.AskSize)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Orderbook{}, false, nil
	}
	if err != nil {
		return market.Orderbook{}, false, err
	}
	if ob.TS, err = intent.ParseISOTime(ts); err != nil {
		return market.Orderbook{}, false, err
	}
	return ob, true, nil
}

// --- news items ---

// SaveNewsItem inserts a scored article row, deduplicated on titleHash.
// Returns false when the row already existed.
func (s *Store) SaveNewsItem(source, titleHash string, it news.Item) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO news_items
		(title_hash, source, sentiment, source_weight, published_at, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		titleHash, source, it.Sentiment, it.SourceWeight,
		intent.ISOTime(it.PublishedAt), intent.ISOTime(it.ObservedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// NewsItemsWindow lists items published in [start, end] and observed no later
// than observedCutoff, ordered by publish time.
func (s *Store) NewsItemsWindow(start, end, observedCutoff time.Time) ([]news.Item, error) {
	rows, err := s.db.Query(`
		SELECT sentiment, source_weight, published_at, observed_at
		FROM news_items
		WHERE published_at >= ? AND published_at <= ? AND observed_at <= ?
		ORDER BY published_at ASC`,
		intent.ISOTime(start), intent.ISOTime(end), intent.ISOTime(observedCutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []news.Item
	for rows.Next() {
		var it news.Item
		var published, observed string
		if err := rows.Scan(&it.Sentiment, &it.SourceWeight, &published, &observed); err != nil {
			return nil, err
		}
		if it.PublishedAt, err = intent.ParseISOTime(published); err != nil {
			return nil, err
		}
		if it.ObservedAt, err = intent.ParseISOTime(observed); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveFeatureSnapshot stores the aggregated feature vector an intent can
// reference. Re-saving the same (symbol, ts, version) replaces the row.
func (s *Store) SaveFeatureSnapshot(symbol string, ts int64, version string, f news.Features, windowStart, windowEnd time.Time) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO feature_snapshots
		(symbol, ts, feature_version, features_json, computed_at, window_start, window_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		symbol, ts, version, string(payload), isoNow(),
		intent.ISOTime(windowStart), intent.ISOTime(windowEnd))
	return err
}

// --- order intents ---

// intentPayload mirrors the canonical JSON field set.
type intentPayload struct {
	IntentID    string  `json:"intent_id"`
	CreatedAt   string  `json:"created_at"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	OrderType   string  `json:"order_type"`
	TimeInForce string  `json:"time_in_force"`
	Strategy    string  `json:"strategy"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
	FeaturesRef *string `json:"rationale_features_ref"`
	ExpiresAt   string  `json:"expires_at"`
	Mode        string  `json:"mode"`
}

func intentFromJSON(raw string) (intent.OrderIntent, error) {
	var p intentPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return intent.OrderIntent{}, fmt.Errorf("decode intent payload: %w", err)
	}
	created, err := intent.ParseISOTime(p.CreatedAt)
	if err != nil {
		return intent.OrderIntent{}, err
	}
	expires, err := intent.ParseISOTime(p.ExpiresAt)
	if err != nil {
		return intent.OrderIntent{}, err
	}
	ref := ""
	if p.FeaturesRef != nil {
		ref = *p.FeaturesRef
	}
	return intent.OrderIntent{
		IntentID:    p.IntentID,
		CreatedAt:   created,
		Symbol:      p.Symbol,
		Side:        intent.Side(p.Side),
		Size:        p.Size,
		Price:       p.Price,
		OrderType:   p.OrderType,
		TimeInForce: p.TimeInForce,
		Strategy:    p.Strategy,
		Confidence:  p.Confidence,
		Rationale:   p.Rationale,
		FeaturesRef: ref,
		ExpiresAt:   expires,
		Mode:        intent.Mode(p.Mode),
	}, nil
}

// SaveIntent persists a freshly proposed intent. Insertion is idempotent:
// saving the same intent id twice leaves one row and returns inserted=false,
// so scheduler retries are safe.
func (s *Store) SaveIntent(oi intent.OrderIntent) (inserted bool, err error) {
	var ref any
	if oi.FeaturesRef != "" {
		ref = oi.FeaturesRef
	}
	res, err := s.db.Exec(`
		INSERT INTO order_intents
		(intent_id, created_at, intent_json, intent_hash, status, expires_at,
		 strategy, symbol, side, size, price, confidence, rationale, features_ref, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO NOTHING`,
		oi.IntentID, intent.ISOTime(oi.CreatedAt), oi.CanonicalJSON(), oi.Hash(),
		string(intent.StatusProposed), intent.ISOTime(oi.ExpiresAt),
		oi.Strategy, oi.Symbol, string(oi.Side), oi.Size, oi.Price,
		oi.Confidence, oi.Rationale, ref, string(oi.Mode))
	if err != nil {
		return false, fmt.Errorf("save intent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanIntentRecord(row *sql.Row) (IntentRecord, error) {
	var raw, status, hash string
	if err := row.Scan(&raw, &status, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IntentRecord{}, ErrIntentNotFound
		}
		return IntentRecord{}, err
	}
	oi, err := intentFromJSON(raw)
	if err != nil {
		return IntentRecord{}, err
	}
	return IntentRecord{Intent: oi, Status: intent.Status(status), IntentHash: hash}, nil
}

// Intent fetches a stored intent by id.
func (s *Store) Intent(intentID string) (IntentRecord, error) {
	row := s.db.QueryRow(
		`SELECT intent_json, status, intent_hash FROM order_intents WHERE intent_id = ?`, intentID)
	return scanIntentRecord(row)
}

// LatestIntentByStatus returns the most recently created intent in the given
// status.
func (s *Store) LatestIntentByStatus(status intent.Status) (IntentRecord, error) {
	row := s.db.QueryRow(`
		SELECT intent_json, status, intent_hash FROM order_intents
		WHERE status = ? ORDER BY created_at DESC LIMIT 1`, string(status))
	return scanIntentRecord(row)
}

func updateIntentStatusTx(tx *sql.Tx, intentID string, next intent.Status) error {
	var current string
	err := tx.QueryRow(`SELECT status FROM order_intents WHERE intent_id = ?`, intentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrIntentNotFound
	}
	if err != nil {
		return err
	}
	if !intent.Status(current).CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, current, next)
	}
	_, err = tx.Exec(`UPDATE order_intents SET status = ? WHERE intent_id = ?`, string(next), intentID)
	return err
}

// UpdateIntentStatus applies a lifecycle transition, enforcing monotonicity.
func (s *Store) UpdateIntentStatus(intentID string, next intent.Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := updateIntentStatusTx(tx, intentID, next); err != nil {
		return err
	}
	return tx.Commit()
}

// --- approvals ---

// SaveApproval stores (or replaces) the approval for an intent, binding it to
// the intent hash at approval time. Only the phrase hash is persisted.
func (s *Store) SaveApproval(intentID, intentHash, approvedBy, phraseHash string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO approvals
		(intent_id, intent_hash, approved_at, approved_by, phrase_hash)
		VALUES (?, ?, ?, ?, ?)`,
		intentID, intentHash, isoNow(), approvedBy, phraseHash)
	return err
}

// Approval fetches the stored approval for an intent, if any.
func (s *Store) Approval(intentID string) (intentHash, approvedBy string, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT intent_hash, approved_by FROM approvals WHERE intent_id = ?`, intentID)
	err = row.Scan(&intentHash, &approvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	return intentHash, approvedBy, true, nil
}

// --- executions, fills, trade results ---

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// RecordExecution persists an execution attempt, its fills and optional trade
// result, and moves the intent to next, all in one transaction so a crash
// can never leave an execution without its status change.
func (s *Store) RecordExecution(exec Execution, fills []Fill, trade *TradeResult, next intent.Status) error {
	details, err := marshalMeta(exec.Details)
	if err != nil {
		return fmt.Errorf("encode execution details: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO executions
		(exec_id, intent_id, intent_hash, executed_at, mode, status, fee, slippage_model, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ExecID, exec.IntentID, exec.IntentHash, intent.ISOTime(exec.ExecutedAt),
		string(exec.Mode), string(exec.Status), exec.Fee, exec.SlippageModel, details); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	for _, f := range fills {
		if _, err := tx.Exec(`
			INSERT INTO fills
			(fill_id, exec_id, symbol, side, size, price, fee, fee_currency, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.FillID, f.ExecID, f.Symbol, string(f.Side), f.Size, f.Price, f.Fee, f.FeeCurrency,
			intent.ISOTime(f.TS)); err != nil {
			return fmt.Errorf("insert fill: %w", err)
		}
	}

	if trade != nil {
		meta, err := marshalMeta(trade.Meta)
		if err != nil {
			return fmt.Errorf("encode trade meta: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO trade_results
			(trade_id, intent_id, pnl, created_at, mode, meta_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			trade.TradeID, trade.IntentID, trade.PnL, intent.ISOTime(trade.CreatedAt),
			string(trade.Mode), meta); err != nil {
			return fmt.Errorf("insert trade result: %w", err)
		}
	}

	if err := updateIntentStatusTx(tx, exec.IntentID, next); err != nil {
		return err
	}
	return tx.Commit()
}

// --- risk snapshot queries ---

// DailyPnL sums realized PnL for a UTC day (YYYY-MM-DD).
func (s *Store) DailyPnL(day string) (float64, error) {
	var total float64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(pnl), 0) FROM trade_results WHERE created_at LIKE ?`,
		day+"%").Scan(&total)
	return total, err
}

// DailyExecutionCount counts execution attempts for a UTC day.
func (s *Store) DailyExecutionCount(day string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM executions WHERE executed_at LIKE ?`, day+"%").Scan(&n)
	return n, err
}

// LastExecutionTime returns the most recent execution timestamp.
func (s *Store) LastExecutionTime() (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRow(
		`SELECT executed_at FROM executions ORDER BY executed_at DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := intent.ParseISOTime(ts)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// PositionSize nets buys against sells over all fills for a symbol.
func (s *Store) PositionSize(symbol string) (float64, error) {
	size, _, err := s.PositionState(symbol)
	return size, err
}

// PositionState replays fills in time order to reconstruct the open position
// and its average cost. Buys blend into the running cost basis (fees
// included); sells release cost at the current average.
func (s *Store) PositionState(symbol string) (size, avgCost float64, err error) {
	rows, err := s.db.Query(
		`SELECT side, size, price, fee FROM fills WHERE symbol = ? ORDER BY ts ASC`, symbol)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var costTotal float64
	for rows.Next() {
		var side string
		var fSize, fPrice, fee float64
		if err := rows.Scan(&side, &fSize, &fPrice, &fee); err != nil {
			return 0, 0, err
		}
		switch intent.Side(side) {
		case intent.Buy:
			costTotal += fPrice*fSize + fee
			size += fSize
		case intent.Sell:
			if size <= 0 {
				continue
			}
			avg := costTotal / size
			costTotal -= avg * fSize
			size -= fSize
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if size > 0 {
		avgCost = costTotal / size
	} else {
		avgCost = 0
	}
	return size, avgCost, nil
}

// TradeRows lists trade results (optionally filtered by mode) for reporting.
func (s *Store) TradeRows(mode intent.Mode) ([]TradeResult, error) {
	query := `SELECT trade_id, intent_id, pnl, created_at, mode, meta_json FROM trade_results`
	args := []any{}
	if mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, string(mode))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeResult
	for rows.Next() {
		var tr TradeResult
		var created, trMode, meta string
		if err := rows.Scan(&tr.TradeID, &tr.IntentID, &tr.PnL, &created, &trMode, &meta); err != nil {
			return nil, err
		}
		if tr.CreatedAt, err = intent.ParseISOTime(created); err != nil {
			return nil, err
		}
		tr.Mode = intent.Mode(trMode)
		if err := json.Unmarshal([]byte(meta), &tr.Meta); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// --- audit log ---

// LogEvent appends an audit record. Event ids are ULIDs so rows sort by
// creation time. Audit failures are reported, never fatal to the caller's
// main operation.
func (s *Store) LogEvent(event string, data map[string]any) error {
	payload, err := marshalMeta(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_logs (event_id, ts, event, data_json) VALUES (?, ?, ?, ?)`,
		id.New(), isoNow(), event, payload)
	return err
}

// CountIntents returns how many intents sit in each status, for status
// reporting.
func (s *Store) CountIntents() (map[intent.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM order_intents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[intent.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[intent.Status(status)] = n
	}
	return out, rows.Err()
}
