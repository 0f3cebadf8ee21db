package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Options struct {
	// Driver is "mysql" or "pgx". MySQL DSNs need parseTime=true.
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
	ConnMaxIdle  time.Duration
	PingTimeout  time.Duration
}

type DB struct {
	DB     *sql.DB
	Driver string
}

func Open(opt Options) (*DB, error) {
	switch opt.Driver {
	case "":
		opt.Driver = "mysql"
	case "mysql", "pgx":
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", opt.Driver)
	}
	if opt.MaxOpenConns <= 0 {
		opt.MaxOpenConns = 50
	}
	if opt.MaxIdleConns <= 0 {
		opt.MaxIdleConns = 25
	}
	if opt.ConnMaxLife == 0 {
		opt.ConnMaxLife = 30 * time.Minute
	}
	if opt.ConnMaxIdle == 0 {
		opt.ConnMaxIdle = 5 * time.Minute
	}
	if opt.PingTimeout == 0 {
		opt.PingTimeout = 2 * time.Second
	}

	d, err := sql.Open(opt.Driver, opt.DSN)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(opt.MaxOpenConns)
	d.SetMaxIdleConns(opt.MaxIdleConns)
	d.SetConnMaxLifetime(opt.ConnMaxLife)
	d.SetConnMaxIdleTime(opt.ConnMaxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), opt.PingTimeout)
	defer cancel()
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return &DB{DB: d, Driver: opt.Driver}, nil
}

func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
