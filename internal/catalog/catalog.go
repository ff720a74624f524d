// Package catalog manages the provider server-location list: downloaded
// from the gluetun project and cached in a local sqlite database.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultServerListURL is the upstream gluetun server list.
const DefaultServerListURL = "https://raw.githubusercontent.com/qdm12/gluetun/master/internal/storage/servers.json"

// Catalog caches server locations in a sqlite database under the cache
// directory. The cache is refreshed once it is older than the TTL.
type Catalog struct {
	db     *sql.DB
	url    string
	ttl    time.Duration
	client *http.Client
}

// Server is one flattened catalog row.
type Server struct {
	Provider string
	Country  string
	City     string
	Hostname string
}

// Open creates or opens the catalog cache database under dir.
func Open(dir, url string, ttl time.Duration) (*Catalog, error) {
	if url == "" {
		url = DefaultServerListURL
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "servers.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}

	c := &Catalog{
		db:     db,
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the cache database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		country TEXT NOT NULL,
		city TEXT NOT NULL,
		hostname TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_servers_provider ON servers(provider);
	CREATE INDEX IF NOT EXISTS idx_servers_country ON servers(provider, country);

	CREATE TABLE IF NOT EXISTS cache_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		fetched_at TEXT NOT NULL
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

// Refresh downloads the server list and replaces the cached rows. Without
// force it is a no-op while the cache is still fresh.
func (c *Catalog) Refresh(ctx context.Context, force bool) error {
	if !force && c.isFresh() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build server list request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download server list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download server list: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read server list: %w", err)
	}

	servers, err := ParseServerList(body)
	if err != nil {
		return err
	}
	return c.replace(servers)
}

// ParseServerList flattens the gluetun servers.json document into rows.
// Entries without a country or city are skipped; they cannot be planned
// against.
func ParseServerList(data []byte) ([]Server, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse server list: %w", err)
	}

	var servers []Server
	for provider, raw := range doc {
		// The document carries a top-level "version" number next to the
		// provider objects.
		var entry struct {
			Servers []struct {
				Country  string `json:"country"`
				City     string `json:"city"`
				Hostname string `json:"hostname"`
			} `json:"servers"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		for _, s := range entry.Servers {
			if s.Country == "" || s.City == "" {
				continue
			}
			servers = append(servers, Server{
				Provider: provider,
				Country:  s.Country,
				City:     s.City,
				Hostname: s.Hostname,
			})
		}
	}
	return servers, nil
}

// replace swaps the cached rows for the given set in one transaction and
// stamps the fetch time.
func (c *Catalog) replace(servers []Server) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to update catalog cache: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM servers"); err != nil {
		return fmt.Errorf("failed to update catalog cache: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO servers (provider, country, city, hostname) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to update catalog cache: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, s := range servers {
		if _, err := stmt.Exec(s.Provider, s.Country, s.City, s.Hostname); err != nil {
			return fmt.Errorf("failed to update catalog cache: %w", err)
		}
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		INSERT INTO cache_meta (id, fetched_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at
	`, fetchedAt); err != nil {
		return fmt.Errorf("failed to update catalog cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to update catalog cache: %w", err)
	}
	return nil
}

func (c *Catalog) isFresh() bool {
	var fetchedAt string
	err := c.db.QueryRow("SELECT fetched_at FROM cache_meta WHERE id = 1").Scan(&fetchedAt)
	if err != nil {
		return false
	}
	t, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return false
	}
	return time.Since(t) < c.ttl
}

// ListProviders returns all providers in the catalog, sorted.
func (c *Catalog) ListProviders(ctx context.Context) ([]string, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	return c.queryStrings("SELECT DISTINCT provider FROM servers ORDER BY provider")
}

// ListCountries returns the countries a provider serves, sorted.
func (c *Catalog) ListCountries(ctx context.Context, provider string) ([]string, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	return c.queryStrings("SELECT DISTINCT country FROM servers WHERE provider = ? ORDER BY country", provider)
}

// ListCities returns the cities a provider serves in a country, in catalog
// order. Planning depends on that order being stable.
func (c *Catalog) ListCities(ctx context.Context, provider, country string) ([]string, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	rows, err := c.db.Query(
		"SELECT city FROM servers WHERE provider = ? AND country = ? ORDER BY id", provider, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := map[string]bool{}
	var cities []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, err
		}
		if seen[city] {
			continue
		}
		seen[city] = true
		cities = append(cities, city)
	}
	return cities, rows.Err()
}

func (c *Catalog) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
