package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// DB wraps the sqlite store. All reconciliation state lives here; correctness
// under concurrent webhook delivery relies on unique indexes and conditional
// updates, not in-process locks.
type DB struct {
	*sql.DB
	log      zerolog.Logger
	mu       sync.RWMutex
	vehicles map[int64]*models.Vehicle
	shops    map[int64]*models.Shop
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}
	log.Info().Str("path", path).Msg("database initialized")

	return &DB{
		DB:       db,
		log:      log,
		vehicles: make(map[int64]*models.Vehicle),
		shops:    make(map[int64]*models.Shop),
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rentals (
            id TEXT PRIMARY KEY,
            vehicle_id INTEGER NOT NULL,
            shop_id INTEGER NOT NULL,
            user_id TEXT,
            start_date DATETIME NOT NULL,
            end_date DATETIME NOT NULL,
            total_price REAL NOT NULL,
            deposit_required BOOLEAN NOT NULL DEFAULT 0,
            deposit_amount REAL NOT NULL DEFAULT 0,
            deposit_paid BOOLEAN NOT NULL DEFAULT 0,
            deposit_processed BOOLEAN NOT NULL DEFAULT 0,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            status TEXT NOT NULL DEFAULT 'pending',
            payment_date DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS payment_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider TEXT NOT NULL,
            external_id TEXT NOT NULL,
            rental_id TEXT NOT NULL,
            amount REAL NOT NULL,
            currency TEXT NOT NULL,
            is_deposit BOOLEAN NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            capture_id TEXT,
            metadata TEXT,
            provider_ts DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS blocked_dates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            vehicle_id INTEGER NOT NULL,
            date DATETIME NOT NULL,
            reason TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS booking_history (
            id TEXT PRIMARY KEY,
            rental_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            status TEXT NOT NULL,
            notes TEXT,
            actor_id TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS payouts (
            id TEXT PRIMARY KEY,
            rental_id TEXT NOT NULL,
            shop_id INTEGER NOT NULL,
            amount REAL NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            reason TEXT,
            processed_by TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME
        )`,

		`CREATE TABLE IF NOT EXISTS webhook_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider TEXT NOT NULL,
            event_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payload TEXT,
            signature_valid BOOLEAN NOT NULL DEFAULT 0,
            processed_at DATETIME,
            processing_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS retry_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            rental_id TEXT,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// (vehicle, date) exclusivity: re-blocking an already blocked date is
		// a no-op via INSERT OR IGNORE against this index.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_blocked_dates_vehicle_date ON blocked_dates(vehicle_id, date)`,
		// one row per delivered provider event
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_event ON webhook_events(provider, event_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_records_provider_external ON payment_records(provider, external_id)`,
		// status list must stay in sync with models.PaymentRecord.Terminal
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_records_active ON payment_records(rental_id, is_deposit)
             WHERE lower(status) NOT IN ('paid', 'succeeded', 'failed', 'cancelled', 'expired', 'completed', 'denied', 'declined')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payouts_rental ON payouts(rental_id)`,

		`CREATE INDEX IF NOT EXISTS idx_rentals_status ON rentals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_rentals_vehicle_id ON rentals(vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_rental_id ON payment_records(rental_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_history_rental_id ON booking_history(rental_id)`,
		`CREATE INDEX IF NOT EXISTS idx_retry_queue_status ON retry_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetVehicles replaces the in-memory vehicle catalog used for validation.
func (db *DB) SetVehicles(vehicles []*models.Vehicle) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.vehicles = make(map[int64]*models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		db.vehicles[v.ID] = v
	}
}

// GetVehicle returns a catalog entry or nil when unknown.
func (db *DB) GetVehicle(id int64) *models.Vehicle {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vehicles[id]
}

// SetShops replaces the in-memory shop catalog.
func (db *DB) SetShops(shops []*models.Shop) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.shops = make(map[int64]*models.Shop, len(shops))
	for _, s := range shops {
		db.shops[s.ID] = s
	}
}

// GetShop returns a shop catalog entry or nil when unknown.
func (db *DB) GetShop(id int64) *models.Shop {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.shops[id]
}

func (db *DB) Close() error {
	return db.DB.Close()
}
