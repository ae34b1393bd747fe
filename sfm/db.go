package sfm

import (
	"database/sql"
	"log"

	_ "github.com/mattn/go-sqlite3"

	// use deadlock detector mutexes here since the database is shared between
	// the matcher and the registration pass
	sync "github.com/sasha-s/go-deadlock"
)

const dbDebug bool = false

// FeatureDB is the per-run feature-matching database: keypoints per frame and
// matches per frame pair. It is owned exclusively by the calibrator for the
// run's lifetime and shipped with the dataset so downstream tools can inspect
// the correspondences behind each pose.
type FeatureDB struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenFeatureDB(fname string) (*FeatureDB, error) {
	sdb, err := sql.Open("sqlite3", fname)
	if err != nil {
		return nil, err
	}
	fdb := &FeatureDB{db: sdb}
	fdb.Exec(`CREATE TABLE IF NOT EXISTS frames (
		idx INTEGER PRIMARY KEY,
		width INTEGER,
		height INTEGER,
		num_keypoints INTEGER
	)`)
	fdb.Exec(`CREATE TABLE IF NOT EXISTS keypoints (
		frame INTEGER REFERENCES frames(idx),
		kp INTEGER,
		x INTEGER,
		y INTEGER,
		orientation REAL,
		PRIMARY KEY (frame, kp)
	)`)
	fdb.Exec(`CREATE TABLE IF NOT EXISTS matches (
		frame1 INTEGER REFERENCES frames(idx),
		frame2 INTEGER REFERENCES frames(idx),
		kp1 INTEGER,
		kp2 INTEGER,
		dist INTEGER
	)`)
	fdb.Exec(`CREATE INDEX IF NOT EXISTS matches_pair ON matches (frame1, frame2)`)
	return fdb, nil
}

func (fdb *FeatureDB) Close() error {
	fdb.mu.Lock()
	defer fdb.mu.Unlock()
	return fdb.db.Close()
}

func (fdb *FeatureDB) Exec(q string, args ...interface{}) {
	fdb.mu.Lock()
	defer fdb.mu.Unlock()
	if dbDebug {
		log.Printf("[featuredb] Exec: %v", q)
	}
	if _, err := fdb.db.Exec(q, args...); err != nil {
		panic(err)
	}
}

// InsertFrame records a frame and its keypoints in one transaction.
func (fdb *FeatureDB) InsertFrame(idx int, width int, height int, kps []Keypoint) {
	fdb.mu.Lock()
	defer fdb.mu.Unlock()
	tx, err := fdb.db.Begin()
	if err != nil {
		panic(err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO frames (idx, width, height, num_keypoints) VALUES (?, ?, ?, ?)",
		idx, width, height, len(kps),
	); err != nil {
		tx.Rollback()
		panic(err)
	}
	stmt, err := tx.Prepare("INSERT INTO keypoints (frame, kp, x, y, orientation) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		panic(err)
	}
	for i, kp := range kps {
		if _, err := stmt.Exec(idx, i, kp.X, kp.Y, kp.Orientation); err != nil {
			tx.Rollback()
			panic(err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		panic(err)
	}
}

// InsertMatches records matches for the pair (frame1, frame2).
func (fdb *FeatureDB) InsertMatches(frame1 int, frame2 int, matches []Match) {
	fdb.mu.Lock()
	defer fdb.mu.Unlock()
	tx, err := fdb.db.Begin()
	if err != nil {
		panic(err)
	}
	stmt, err := tx.Prepare("INSERT INTO matches (frame1, frame2, kp1, kp2, dist) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		panic(err)
	}
	for _, m := range matches {
		if _, err := stmt.Exec(frame1, frame2, m.Idx1, m.Idx2, m.Dist); err != nil {
			tx.Rollback()
			panic(err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		panic(err)
	}
}

// CountMatches returns the number of stored matches for a frame pair.
func (fdb *FeatureDB) CountMatches(frame1 int, frame2 int) int {
	fdb.mu.Lock()
	defer fdb.mu.Unlock()
	var count int
	row := fdb.db.QueryRow("SELECT COUNT(*) FROM matches WHERE frame1 = ? AND frame2 = ?", frame1, frame2)
	if err := row.Scan(&count); err != nil {
		panic(err)
	}
	return count
}
