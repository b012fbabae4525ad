package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hstin/sen2map/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

type SceneRecord struct {
	ID        string
	Name      string
	Level     string
	Dir       string
	TifDir    string
	Footprint string
	Converted time.Time
}

type MapRecord struct {
	Scene   string
	View    string
	Path    string
	Zoom    float64
	XOffset float64
	YOffset float64
	Width   int
	Height  int
	Format  string
	Created time.Time
}

// Open opens the catalog, creating its tables when missing.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scenes (
			id TEXT,
			name TEXT,
			level TEXT,
			dir TEXT,
			tif_dir TEXT,
			footprint TEXT,
			converted_at TEXT,
			PRIMARY KEY (id)
		);
		CREATE TABLE IF NOT EXISTS maps (
			scene TEXT,
			view TEXT,
			path TEXT,
			zoom REAL,
			xoffset REAL,
			yoffset REAL,
			width INTEGER,
			height INTEGER,
			format TEXT,
			created_at TEXT,
			PRIMARY KEY (scene, view)
		);
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT,
			value TEXT,
			PRIMARY KEY (name)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO metadata VALUES
		('name', 'sen2map catalog'),
		('description', 'Sentinel-2 quicklook maps generated using sen2map'),
		('version', '?'),
		('bands', '?'),
		('safe_bands', '?'),
		('views', '?'),
		('format', '?'),
		('last_run', '?');
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func RecordScene(db *sql.DB, r SceneRecord) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO scenes
		(id, name, level, dir, tif_dir, footprint, converted_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Level, r.Dir, r.TifDir, r.Footprint, r.Converted.UTC().Format(time.RFC3339))
	return err
}

func Scenes(db *sql.DB) ([]SceneRecord, error) {
	rows, err := db.Query("SELECT id, name, level, dir, tif_dir, footprint, converted_at FROM scenes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SceneRecord
	for rows.Next() {
		var r SceneRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.Name, &r.Level, &r.Dir, &r.TifDir, &r.Footprint, &ts); err != nil {
			return nil, err
		}
		r.Converted, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PrepareMaps returns the statement RecordMap executes, for a single writer
// recording many maps.
func PrepareMaps(db *sql.DB) (*sql.Stmt, error) {
	return db.Prepare(`INSERT OR REPLACE INTO maps
		(scene, view, path, zoom, xoffset, yoffset, width, height, format, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func RecordMap(stmt *sql.Stmt, r MapRecord) error {
	_, err := stmt.Exec(r.Scene, r.View, r.Path, r.Zoom, r.XOffset, r.YOffset,
		r.Width, r.Height, r.Format, r.Created.UTC().Format(time.RFC3339))
	return err
}

// HasMap reports whether a map of the scene and view is catalogued and its
// file still exists.
func HasMap(db *sql.DB, scene, view string) (bool, error) {
	var path string
	err := db.QueryRow("SELECT path FROM maps WHERE scene = ? AND view = ?", scene, view).Scan(&path)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	return true, nil
}

func Maps(db *sql.DB) ([]MapRecord, error) {
	rows, err := db.Query(`SELECT scene, view, path, zoom, xoffset, yoffset, width, height, format, created_at
		FROM maps ORDER BY scene, view`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MapRecord
	for rows.Next() {
		var r MapRecord
		var ts string
		err := rows.Scan(&r.Scene, &r.View, &r.Path, &r.Zoom, &r.XOffset, &r.YOffset,
			&r.Width, &r.Height, &r.Format, &ts)
		if err != nil {
			return nil, err
		}
		r.Created, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func UpdateMetadata(db *sql.DB, cfg *config.Config, version string, run time.Time) error {
	views := make([]string, len(cfg.Views))
	for i, v := range cfg.Views {
		views[i] = fmt.Sprintf("%s:%g:%g:%g", v.ID, v.Zoom, v.XOffset, v.YOffset)
	}
	values := map[string]string{
		"version":    version,
		"bands":      strings.Join(cfg.Bands, ","),
		"safe_bands": strings.Join(cfg.SafeBands, ","),
		"views":      strings.Join(views, ","),
		"format":     cfg.Format,
		"last_run":   run.UTC().Format(time.RFC3339),
	}
	for name, value := range values {
		_, err := db.Exec("UPDATE metadata SET value = ? WHERE name = ?", value, name)
		if err != nil {
			return err
		}
	}
	return nil
}

func Metadata(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
