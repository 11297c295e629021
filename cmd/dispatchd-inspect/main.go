package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/taskforge/dispatchd/pkg/types"
)

var (
	dataDir = flag.String("data-dir", "./data", "dispatchd data directory")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	dbPath := filepath.Join(*dataDir, "dispatchd.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	counts := map[types.Status]int{}
	total := 0

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("tasks"))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			counts[t.Status]++
			total++
			return nil
		})
	})
	if err != nil {
		log.Fatalf("read tasks bucket: %v", err)
	}

	fmt.Printf("database: %s\n", dbPath)
	fmt.Printf("total tasks: %d\n", total)
	for _, status := range []types.Status{
		types.StatusPending, types.StatusInProgress, types.StatusCompleted,
		types.StatusFailed, types.StatusDeadLetter,
	} {
		fmt.Printf("  %-12s %d\n", status, counts[status])
	}
}
