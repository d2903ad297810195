package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// MetricRow is one day of metrics for an app on a platform in a country
type MetricRow struct {
	ID           int64     `json:"id"`
	AppName      string    `json:"app_name"`
	Platform     string    `json:"platform"`
	Date         time.Time `json:"date"`
	Country      string    `json:"country"`
	Installs     int64     `json:"installs"`
	InAppRevenue float64   `json:"in_app_revenue"`
	AdsRevenue   float64   `json:"ads_revenue"`
	UACost       float64   `json:"ua_cost"`
}

// Stats summarizes the stored metrics
type Stats struct {
	TotalRows         int64            `json:"total_rows"`
	Apps              int              `json:"apps"`
	Countries         int              `json:"countries"`
	FirstDate         time.Time        `json:"first_date"`
	LastDate          time.Time        `json:"last_date"`
	TotalInstalls     int64            `json:"total_installs"`
	TotalRevenue      float64          `json:"total_revenue"`
	TotalUACost       float64          `json:"total_ua_cost"`
	DatabaseSizeMB    float64          `json:"database_size_mb"`
	PlatformBreakdown map[string]int64 `json:"platform_breakdown"`
}

// InsertMetrics stores the given rows in a single transaction
func (s *Store) InsertMetrics(ctx context.Context, rows []MetricRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	insertSQL := rebind(s.driver, `
	INSERT INTO app_metrics (
		id, app_name, platform, date, country,
		installs, in_app_revenue, ads_revenue, ua_cost
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.ID, row.AppName, row.Platform, row.Date, row.Country,
			row.Installs, row.InAppRevenue, row.AdsRevenue, row.UACost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert metric row %d: %w", row.ID, err)
		}
	}

	return tx.Commit()
}

// CountMetrics returns the number of stored metric rows
func (s *Store) CountMetrics(ctx context.Context) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_metrics").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count metrics: %w", err)
	}

	return count, nil
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		PlatformBreakdown: make(map[string]int64),
	}

	summarySQL := `
	SELECT COUNT(*),
		   COUNT(DISTINCT app_name),
		   COUNT(DISTINCT country),
		   MIN(date), MAX(date),
		   SUM(installs),
		   CAST(SUM(in_app_revenue + ads_revenue) AS DOUBLE PRECISION),
		   CAST(SUM(ua_cost) AS DOUBLE PRECISION)
	FROM app_metrics`

	var (
		firstDate, lastDate  sql.NullTime
		installs             sql.NullInt64
		revenue, cost        sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, summarySQL).Scan(
		&stats.TotalRows, &stats.Apps, &stats.Countries,
		&firstDate, &lastDate, &installs, &revenue, &cost,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get metrics summary: %w", err)
	}

	if firstDate.Valid {
		stats.FirstDate = firstDate.Time
	}

	if lastDate.Valid {
		stats.LastDate = lastDate.Time
	}

	stats.TotalInstalls = installs.Int64
	stats.TotalRevenue = revenue.Float64
	stats.TotalUACost = cost.Float64

	// Get database size (approximate)
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
		}
	}

	// Get platform breakdown
	platformRows, err := s.db.QueryContext(ctx,
		"SELECT platform, SUM(installs) FROM app_metrics GROUP BY platform ORDER BY platform")
	if err != nil {
		return nil, fmt.Errorf("failed to get platform breakdown: %w", err)
	}
	defer platformRows.Close()

	for platformRows.Next() {
		var platform string

		var installCount int64
		if err := platformRows.Scan(&platform, &installCount); err != nil {
			return nil, err
		}

		stats.PlatformBreakdown[platform] = installCount
	}

	return stats, platformRows.Err()
}

// Clear removes all metric rows
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM app_metrics")
	if err != nil {
		return fmt.Errorf("failed to clear metrics: %w", err)
	}

	return nil
}
