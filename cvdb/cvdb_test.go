// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cvdb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"testing"

	"github.com/nmradcc/dcc-tester/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open cvdb: %+v", err)
	}
	defer db.Close()
}

func TestLastProfile(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open cvdb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"identifier", "name", "manufacturer", "version", "address"},
		Values: [][]driver.Value{
			{uint32(7), "NMRA2025_3", uint8(13), uint8(2), uint16(3)},
		},
	}, func(ctx context.Context) error {
		p, err := db.LastProfile(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last profile: %+v", err)
		}

		want := Profile{ID: 7, Name: "NMRA2025_3", Manufacturer: 13, Version: 2, Address: 3}
		if got := p; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid profile:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})
}

func TestCVTable(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open cvdb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"cv_index", "cv_value"},
		Values: [][]driver.Value{
			{uint16(0), uint8(3)},    // CV1, short address
			{uint16(7), uint8(13)},   // CV8, manufacturer
			{uint16(28), uint8(0x03)}, // CV29
		},
	}, func(ctx context.Context) error {
		cvs, err := db.CVTable(ctx, "NMRA2025_3")
		if err != nil {
			t.Fatalf("could not retrieve CV table: %+v", err)
		}

		want := []CV{
			{Index: 0, Value: 3},
			{Index: 7, Value: 13},
			{Index: 28, Value: 0x03},
		}
		if got := cvs; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid CV table:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})
}
