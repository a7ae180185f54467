package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const (
	clickhouseNativePort       = "9000"
	clickhouseNativeSecurePort = "9440"
)

// ClickHouseClient is the analytics connection behind the event sink.
type ClickHouseClient struct {
	conn driver.Conn
}

// clickhouseEndpoint is CLICKHOUSE_URL resolved to a native protocol address.
type clickhouseEndpoint struct {
	addr   string
	host   string
	secure bool
}

// parseClickhouseURL accepts host[:port] or a URL. https://, clickhouses://
// and tls:// select TLS; a missing port becomes 9000, or 9440 with TLS.
func parseClickhouseURL(raw string) (clickhouseEndpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return clickhouseEndpoint{}, fmt.Errorf("clickhouse url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return clickhouseEndpoint{}, fmt.Errorf("invalid clickhouse url: %w", err)
	}
	if u.Hostname() == "" {
		return clickhouseEndpoint{}, fmt.Errorf("clickhouse url %q has no host", raw)
	}

	ep := clickhouseEndpoint{host: u.Hostname()}
	switch u.Scheme {
	case "https", "clickhouses", "tls":
		ep.secure = true
	case "http", "clickhouse", "tcp":
	default:
		return clickhouseEndpoint{}, fmt.Errorf("unsupported clickhouse scheme %q", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = clickhouseNativePort
		if ep.secure {
			port = clickhouseNativeSecurePort
		}
	}
	ep.addr = net.JoinHostPort(ep.host, port)
	return ep, nil
}

// clickhouseTLS pins the server name and, when caFile is set, the CA pool.
func clickhouseTLS(host, caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	}
	if caFile == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// NewClickHouseClient opens a native protocol connection. TLS is used for
// secure URLs and always in production.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	ep, err := parseClickhouseURL(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{ep.addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		Compression:      &ch.Compression{Method: ch.CompressionLZ4},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if ep.secure || cfg.IsProduction() {
		if opts.TLS, err = clickhouseTLS(ep.host, chConfig.CAFile); err != nil {
			return nil, err
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", ep.addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))

	return &ClickHouseClient{conn: conn}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// BatchInsert sends rows as one native block; a row that fails to append
// aborts the whole batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}
