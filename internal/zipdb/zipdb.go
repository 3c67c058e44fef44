// Package zipdb is a local SQLite database of ZIP-code demographics.
//
// The table layout follows the "simple" ZIP code dataset published with the
// uszipcode project, so its CSV exports can be imported directly.
package zipdb

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/utils"
)

// ErrNotFound is returned when a ZIP code has no entry.
var ErrNotFound = errors.New("zipcode not found")

const createTable = `
CREATE TABLE IF NOT EXISTS zipcodes (
	zipcode TEXT PRIMARY KEY,
	major_city TEXT,
	county TEXT,
	state TEXT,
	population INTEGER,
	population_density REAL,
	housing_units INTEGER,
	occupied_housing_units INTEGER,
	land_area_in_sqmi REAL,
	median_home_value INTEGER,
	median_household_income INTEGER
);`

var columns = []string{
	"zipcode", "major_city", "county", "state", "population", "population_density",
	"housing_units", "occupied_housing_units", "land_area_in_sqmi",
	"median_home_value", "median_household_income",
}

// DB is an open demographic database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening zip database %s", path)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(createTable); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "creating zipcodes table")
	}
	return &DB{db: conn}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Lookup returns the demographics for zip, or ErrNotFound.
func (d *DB) Lookup(ctx context.Context, zip string) (*model.Demographics, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(columns, ", ")+` FROM zipcodes WHERE zipcode = ?`, zip)

	var z model.Demographics
	var city, county, state sql.NullString
	var pop, units, occupied, homeValue, income sql.NullInt64
	var density, landArea sql.NullFloat64
	err := row.Scan(&z.Zipcode, &city, &county, &state, &pop, &density,
		&units, &occupied, &landArea, &homeValue, &income)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up zipcode %s", zip)
	}

	z.MajorCity, z.County, z.State = city.String, county.String, state.String
	z.Population = nullInt(pop)
	z.PopulationDensity = nullFloat(density)
	z.HousingUnits = nullInt(units)
	z.OccupiedHousingUnits = nullInt(occupied)
	z.LandAreaSqMi = nullFloat(landArea)
	z.MedianHomeValue = nullInt(homeValue)
	z.MedianHouseholdIncome = nullInt(income)
	return &z, nil
}

// Upsert inserts or replaces one entry.
func (d *DB) Upsert(ctx context.Context, z *model.Demographics) error {
	_, err := d.db.ExecContext(ctx, upsertSQL(), upsertArgs(z)...)
	return errors.Wrapf(err, "upserting zipcode %s", z.Zipcode)
}

// Count returns the number of entries.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zipcodes`).Scan(&n)
	return n, err
}

// Import loads a CSV whose header names the table columns. Unknown columns
// are ignored, "zipcode" is required, and empty cells become NULL. Rows are
// upserted in one transaction; the number imported is returned.
func (d *DB) Import(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return 0, errors.Wrap(err, "reading zip CSV header")
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[utils.NormalizeName(h)] = i
	}
	if _, ok := pos["zipcode"]; !ok {
		return 0, errors.New("zip CSV has no zipcode column")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL())
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, errors.Wrapf(err, "reading zip CSV line %d", line)
		}
		z, err := parseRecord(rec, pos)
		if err != nil {
			return count, errors.Wrapf(err, "zip CSV line %d", line)
		}
		if z.Zipcode == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, upsertArgs(z)...); err != nil {
			return count, errors.Wrapf(err, "importing zipcode %s", z.Zipcode)
		}
		count++
	}
	return count, errors.Wrap(tx.Commit(), "committing zip import")
}

func upsertSQL() string {
	return `INSERT OR REPLACE INTO zipcodes (` + strings.Join(columns, ", ") +
		`) VALUES (?` + strings.Repeat(", ?", len(columns)-1) + `)`
}

func upsertArgs(z *model.Demographics) []interface{} {
	return []interface{}{
		z.Zipcode, nullString(z.MajorCity), nullString(z.County), nullString(z.State),
		z.Population, z.PopulationDensity, z.HousingUnits, z.OccupiedHousingUnits,
		z.LandAreaSqMi, z.MedianHomeValue, z.MedianHouseholdIncome,
	}
}

func parseRecord(rec []string, pos map[string]int) (*model.Demographics, error) {
	get := func(name string) string {
		i, ok := pos[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	intField := func(name string) (*int64, error) {
		s := get(name)
		if s == "" {
			return nil, nil
		}
		v, err := utils.ParseInt(s)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", name)
		}
		return &v, nil
	}
	floatField := func(name string) (*float64, error) {
		s := get(name)
		if s == "" {
			return nil, nil
		}
		v, err := utils.ParseFloat(s)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", name)
		}
		return &v, nil
	}

	z := &model.Demographics{
		Zipcode:   utils.NormalizePostalCode(get("zipcode")),
		MajorCity: get("major_city"),
		County:    get("county"),
		State:     get("state"),
	}
	var err error
	for _, f := range []struct {
		name string
		dst  **int64
	}{
		{"population", &z.Population},
		{"housing_units", &z.HousingUnits},
		{"occupied_housing_units", &z.OccupiedHousingUnits},
		{"median_home_value", &z.MedianHomeValue},
		{"median_household_income", &z.MedianHouseholdIncome},
	} {
		if *f.dst, err = intField(f.name); err != nil {
			return nil, err
		}
	}
	if z.PopulationDensity, err = floatField("population_density"); err != nil {
		return nil, err
	}
	if z.LandAreaSqMi, err = floatField("land_area_in_sqmi"); err != nil {
		return nil, err
	}
	return z, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
