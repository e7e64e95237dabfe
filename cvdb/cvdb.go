// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cvdb holds types to describe the configuration database of
// decoder-under-test profiles: per-model CV tables used to provision
// the reference decoder before a compliance run.
package cvdb // import "github.com/nmradcc/dcc-tester/cvdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// Profile describes one decoder-under-test model.
type Profile struct {
	ID           uint32
	Name         string
	Manufacturer uint8 // CV8
	Version      uint8 // CV7
	Address      uint16
}

// CV is one provisioned configuration variable of a profile.
type CV struct {
	Index uint16 // zero-based wire index
	Value uint8
}

// DB exposes convenience methods to retrieve DUT profiles and their
// CV tables from the test-lab database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the profile database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("cvdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("cvdb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("cvdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastProfile returns the most recently registered DUT profile.
func (db *DB) LastProfile(ctx context.Context) (Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Profile
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT identifier, name, manufacturer, version, address FROM profiles ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return p, fmt.Errorf("cvdb: could not query profile: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&p.ID, &p.Name, &p.Manufacturer, &p.Version, &p.Address)
		if err != nil {
			return p, fmt.Errorf("cvdb: could not get profile value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return p, fmt.Errorf("cvdb: could not scan db for profile: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return p, fmt.Errorf("cvdb: context error while retrieving profile: %w", err)
	}

	return p, nil
}

// CVTable returns the provisioned CVs of the named profile.
func (db *DB) CVTable(ctx context.Context, profile string) ([]CV, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cvs []CV
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT cvs.cv_index, cvs.cv_value FROM cvs
JOIN profile_cvs ON cvs.identifier=profile_cvs.cv
JOIN profiles    ON profiles.identifier=profile_cvs.profile
WHERE (
	profiles.name=?
)
`,
		profile,
	)
	if err != nil {
		return cvs, fmt.Errorf("cvdb: could not run CV table query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var cv CV
		err = rows.Scan(&cv.Index, &cv.Value)
		if err != nil {
			return cvs, fmt.Errorf("cvdb: could not scan row %d for CV table: %w", i, err)
		}
		i++

		cvs = append(cvs, cv)
	}

	if err := rows.Err(); err != nil {
		return cvs, fmt.Errorf("cvdb: could not scan db for CV table: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cvs, fmt.Errorf("cvdb: context error while retrieving CV table: %w", err)
	}

	return cvs, nil
}
