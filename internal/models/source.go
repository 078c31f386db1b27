package models

import "time"

// Source is one configured website to scrape.
type Source struct {
	ID          string     `firestore:"-" db:"id"`
	Name        string     `firestore:"name" db:"name"`
	URLBase     string     `firestore:"urlBase" db:"url_base"`
	ScraperType string     `firestore:"scraperType" db:"scraper_type"`
	Active      bool       `firestore:"active" db:"active"`
	LastRunAt   *time.Time `firestore:"lastRunAt" db:"last_run_at"`
	CreatedAt   time.Time  `firestore:"createdAt" db:"created_at"`
}

// SourceLink is one (institution, seed URL) pair from the link targets list.
type SourceLink struct {
	Institution string `yaml:"institution" validate:"required"`
	URL         string `yaml:"url" validate:"required,http_url"`
}

// SyncResult summarizes a link reconciliation pass.
type SyncResult struct {
	Created    int  `json:"created"`
	Updated    int  `json:"updated"`
	Activated  int  `json:"activated"`
	Ignored    int  `json:"ignored"`
	TotalLinks int  `json:"totalLinks"`
	Skipped    bool `json:"skipped,omitempty"`
}
