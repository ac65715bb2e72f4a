// Command lstorebench replays the engine's end-to-end scenarios against a
// real table and prints pass/fail for each, for manual smoke-testing and
// ad-hoc benchmarking. It is a thin collaborator over the core package
// surface, not part of the engine itself.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/Felmond13/lstoredb/api"
	"github.com/Felmond13/lstoredb/config"
	"github.com/Felmond13/lstoredb/query"
)

func main() {
	root := pflag.StringP("root", "r", "./data/bench", "database root directory")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	db, err := api.Open(*root, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	scenarios := []struct {
		name string
		run  func(*api.Database) error
	}{
		{"scenario1_insert_update_point_read", scenarioInsertUpdateRead},
		{"scenario2_version_travel", scenarioVersionTravel},
		{"scenario3_range_sum", scenarioRangeSum},
		{"scenario4_delete_invisibility", scenarioDeleteInvisibility},
	}

	failures := 0
	for _, s := range scenarios {
		if err := s.run(db); err != nil {
			fmt.Printf("FAIL %s: %v\n", s.name, err)
			failures++
			continue
		}
		fmt.Printf("PASS %s\n", s.name)
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func ptr(v int64) *int64 { return &v }

func scenarioInsertUpdateRead(db *api.Database) error {
	t, err := db.CreateTable("scenario1", 5, 0)
	if err != nil {
		return err
	}
	if !query.Insert(t, []int64{1, 10, 20, 30, 40}) {
		return fmt.Errorf("insert failed")
	}
	if !query.Update(t, 1, []*int64{nil, nil, ptr(99), nil, nil}) {
		return fmt.Errorf("update failed")
	}
	row, ok := query.Select(t, 1, []bool{true, true, true, true, true})
	if !ok {
		return fmt.Errorf("select failed")
	}
	want := []int64{1, 10, 99, 30, 40}
	for i := range want {
		if row[i] != want[i] {
			return fmt.Errorf("select mismatch at %d: got %d want %d", i, row[i], want[i])
		}
	}
	return nil
}

func scenarioVersionTravel(db *api.Database) error {
	t, err := db.CreateTable("scenario2", 5, 0)
	if err != nil {
		return err
	}
	query.Insert(t, []int64{1, 10, 20, 30, 40})
	query.Update(t, 1, []*int64{nil, nil, ptr(99), nil, nil})
	query.Update(t, 1, []*int64{nil, nil, ptr(100), nil, nil})
	query.Update(t, 1, []*int64{nil, nil, ptr(101), nil, nil})

	proj := []bool{true, true, true, true, true}
	cases := []struct {
		k    int
		want int64
	}{{0, 101}, {-1, 100}, {-2, 99}, {-99, 20}}
	for _, c := range cases {
		row, ok := query.SelectVersion(t, 1, proj, c.k)
		if !ok {
			return fmt.Errorf("select_version(%d) failed", c.k)
		}
		if row[2] != c.want {
			return fmt.Errorf("select_version(%d): got col2=%d want %d", c.k, row[2], c.want)
		}
	}
	return nil
}

func scenarioRangeSum(db *api.Database) error {
	t, err := db.CreateTable("scenario3", 4, 0)
	if err != nil {
		return err
	}
	for i := int64(0); i < 10; i++ {
		if !query.Insert(t, []int64{i, 0, i, 0}) {
			return fmt.Errorf("insert %d failed", i)
		}
	}
	sum, ok := query.Sum(t, 0, 9, 2)
	if !ok || sum != 45 {
		return fmt.Errorf("initial sum got %d want 45 (ok=%v)", sum, ok)
	}
	query.Update(t, 5, []*int64{nil, nil, ptr(100), nil})
	sum, ok = query.Sum(t, 0, 9, 2)
	if !ok || sum != 140 {
		return fmt.Errorf("post-update sum got %d want 140 (ok=%v)", sum, ok)
	}
	return nil
}

func scenarioDeleteInvisibility(db *api.Database) error {
	t, err := db.CreateTable("scenario4", 3, 0)
	if err != nil {
		return err
	}
	if !query.Insert(t, []int64{7, 1, 2}) {
		return fmt.Errorf("insert failed")
	}
	if !query.Delete(t, 7) {
		return fmt.Errorf("delete failed")
	}
	if _, ok := query.Select(t, 7, []bool{true, true, true}); ok {
		return fmt.Errorf("select saw deleted row")
	}
	return nil
}
