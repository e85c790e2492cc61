package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

// ClickHouseConfig holds connection settings for the analytics store
type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Table    string `mapstructure:"table" yaml:"table"`
}

// Execer runs a statement. clickhouse-go's driver.Conn satisfies it.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

const alertTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	timestamp DateTime64(3),
	alert_id UUID,
	device_id String,
	direction LowCardinality(String),
	bands Array(String),
	frequency Float64,
	magnitude Float64,
	prominence Float64,
	noise_floor Float64,
	window_index UInt64,
	duration_ms Int64
) ENGINE = MergeTree()
ORDER BY (device_id, timestamp)`

// ClickHouse appends every transition to an alert table
type ClickHouse struct {
	conn  Execer
	table string
}

// OpenClickHouse connects, pings and creates the alert table
func OpenClickHouse(ctx context.Context, config ClickHouseConfig, logger logging.Logger) (*ClickHouse, error) {
	logger = logging.OrGlobal(logger).WithFields(logging.Fields{
		"component": "clickhouse",
		"addr":      config.Addr,
	})

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink, err := NewClickHouse(ctx, conn, config.Table)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("Connected to ClickHouse", logging.Fields{"table": sink.table})
	return sink, nil
}

// NewClickHouse creates the alert table through conn
func NewClickHouse(ctx context.Context, conn Execer, table string) (*ClickHouse, error) {
	if table == "" {
		table = "hum_alerts"
	}
	if err := conn.Exec(ctx, fmt.Sprintf(alertTableSchema, table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return &ClickHouse{conn: conn, table: table}, nil
}

func (c *ClickHouse) Name() string {
	return "clickhouse"
}

func (c *ClickHouse) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return c.insert(ctx, event)
}

func (c *ClickHouse) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return c.insert(ctx, event)
}

func (c *ClickHouse) insert(ctx context.Context, event detect.AlertEvent) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (timestamp, alert_id, device_id, direction, bands, frequency, magnitude, prominence, noise_floor, window_index, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.table)

	err := c.conn.Exec(ctx, query,
		event.Timestamp,
		event.ID,
		event.Device,
		string(event.Direction),
		event.Bands,
		event.Frequency,
		event.Magnitude,
		event.Prominence,
		event.NoiseFloor,
		event.WindowIndex,
		event.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s alert: %w", strings.ToLower(string(event.Direction)), err)
	}
	return nil
}

func (c *ClickHouse) Close() error {
	if closer, ok := c.conn.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
