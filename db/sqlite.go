package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        year INTEGER NOT NULL,
        km_driven REAL NOT NULL,
        ex_showroom_price REAL NOT NULL,
        owner TEXT,
        seller_type TEXT,
        model_name TEXT,
        applied_adjustments INTEGER NOT NULL DEFAULT 0,
        predicted_price REAL NOT NULL,
        adjusted_price REAL NOT NULL,
        breakdown TEXT,
        model_type TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        r2 REAL,
        mae REAL,
        rmse REAL,
        trained_at DATETIME,
        data_points INTEGER,
        dropped_rows INTEGER
    );
    `

var ErrClosed = errors.New("database not initialized")

// Store persists prediction history and training runs in SQLite.
type Store struct {
	db *sql.DB
}

type PredictionRecord struct {
	ID                 string             `json:"id"`
	Year               int                `json:"year"`
	KmDriven           float64            `json:"km_driven"`
	ExShowroomPrice    float64            `json:"ex_showroom_price"`
	Owner              string             `json:"owner,omitempty"`
	SellerType         string             `json:"seller_type,omitempty"`
	ModelName          string             `json:"model_name,omitempty"`
	AppliedAdjustments bool               `json:"apply_adjustments"`
	PredictedPrice     float64            `json:"predicted_selling_price"`
	AdjustedPrice      float64            `json:"adjusted_prediction"`
	Breakdown          map[string]float64 `json:"breakdown,omitempty"`
	ModelType          string             `json:"model_type"`
	CreatedAt          time.Time          `json:"created_at"`
}

type TrainingLog struct {
	ModelName   string    `json:"model_name"`
	R2          float64   `json:"r2"`
	MAE         float64   `json:"mae"`
	RMSE        float64   `json:"rmse"`
	TrainedAt   time.Time `json:"trained_at"`
	DataPoints  int       `json:"data_points"`
	DroppedRows int       `json:"dropped_rows"`
}

// Open creates the parent directory if needed and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if rec.ID == "" {
		return errors.New("prediction id required")
	}
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            id, year, km_driven, ex_showroom_price, owner, seller_type, model_name,
            applied_adjustments, predicted_price, adjusted_price, breakdown, model_type, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Year, rec.KmDriven, rec.ExShowroomPrice, rec.Owner, rec.SellerType, rec.ModelName,
		rec.AppliedAdjustments, rec.PredictedPrice, rec.AdjustedPrice, string(breakdown), rec.ModelType,
		rec.CreatedAt.UTC())
	return err
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, year, km_driven, ex_showroom_price, owner, seller_type, model_name,
               applied_adjustments, predicted_price, adjusted_price, breakdown, model_type, created_at
        FROM predictions
        ORDER BY created_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var rec PredictionRecord
		var owner, seller, modelName, breakdown, modelType sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Year, &rec.KmDriven, &rec.ExShowroomPrice, &owner, &seller, &modelName,
			&rec.AppliedAdjustments, &rec.PredictedPrice, &rec.AdjustedPrice, &breakdown, &modelType, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Owner = owner.String
		rec.SellerType = seller.String
		rec.ModelName = modelName.String
		rec.ModelType = modelType.String
		if breakdown.Valid && breakdown.String != "" && breakdown.String != "null" {
			if err := json.Unmarshal([]byte(breakdown.String), &rec.Breakdown); err != nil {
				return nil, fmt.Errorf("decode breakdown for %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, r2, mae, rmse, trained_at, data_points, dropped_rows)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.R2, entry.MAE, entry.RMSE, entry.TrainedAt.UTC(), entry.DataPoints, entry.DroppedRows)
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, r2, mae, rmse, trained_at, data_points, dropped_rows
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.R2, &log.MAE, &log.RMSE, &log.TrainedAt, &log.DataPoints, &log.DroppedRows); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
