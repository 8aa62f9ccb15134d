// Package checkpoint saves the crawl cursor so an interrupted crawl can
// resume where it stopped.
//
// A checkpoint tracks:
//   - The listing URL template it belongs to
//   - The next page to fetch
//   - Pages fetched, records held and proxies tried so far
//
// Checkpoints are stored in platform-specific data directories unless a
// directory is configured:
//   - Linux: ~/.local/share/domainscraper/checkpoints/
//   - macOS: ~/Library/Application Support/domainscraper/checkpoints/
//   - Windows: %APPDATA%/domainscraper/checkpoints/
//
// The checkpoint files are saved atomically to prevent corruption and include
// versioning for future compatibility.
package checkpoint
