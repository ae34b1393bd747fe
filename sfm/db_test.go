package sfm

import (
	"path/filepath"
	"testing"
)

func TestFeatureDB(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "features.sqlite3")
	fdb, err := OpenFeatureDB(fname)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fdb.Close()

	kps := []Keypoint{
		{X: 10, Y: 20, Score: 300, Orientation: 0.5},
		{X: 30, Y: 40, Score: 250, Orientation: -1.1},
	}
	fdb.InsertFrame(0, 640, 480, kps)
	fdb.InsertFrame(1, 640, 480, kps[:1])

	matches := []Match{
		{Idx1: 0, Idx2: 0, Dist: 12},
		{Idx1: 1, Idx2: 0, Dist: 40},
	}
	fdb.InsertMatches(0, 1, matches)

	if count := fdb.CountMatches(0, 1); count != 2 {
		t.Errorf("CountMatches(0, 1) = %d; want 2", count)
	}
	if count := fdb.CountMatches(1, 2); count != 0 {
		t.Errorf("CountMatches(1, 2) = %d; want 0", count)
	}
}
