// Package storage is the result sink: an append-only text file holding one
// harvested record per line.
//
// NewManager creates the parent directory once and indexes whatever the file
// already holds, so a resumed crawl never writes a record twice. Append
// writes with O_APPEND and syncs before returning; a record is only
// considered written after that.
//
// Usage:
//
//	sink, err := storage.NewManager("results/found_domains.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	existing, _ := sink.LoadExisting()
//	records := models.NewRecordSet(existing...)
//
//	if _, err := sink.Append(records.Unseen(page.Records)); err != nil {
//	    log.Printf("Failed to persist records: %v", err)
//	}
package storage
