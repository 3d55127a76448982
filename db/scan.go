package db

import (
	"time"
)

// ScanStatus represents the status of a scan.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusCrawling  ScanStatus = "crawling"
	ScanStatusScanning  ScanStatus = "scanning"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// CrawlStats summarizes what the crawl phase covered.
type CrawlStats struct {
	TotalPages      int `json:"totalPages"`
	TotalForms      int `json:"totalForms"`
	TotalLinks      int `json:"totalLinks"`
	VisitedUrls     int `json:"visitedUrls"`
	MaxDepthReached int `json:"maxDepthReached"`
}

// Scan is the persisted record of a vulnerability scanning session.
type Scan struct {
	ID              string     `json:"id" gorm:"primaryKey;size:64"`
	URL             string     `json:"url" gorm:"size:2048;not null"`
	Status          ScanStatus `json:"status" gorm:"index;size:50;not null;default:'pending'"`
	Vulnerabilities []Finding  `json:"vulnerabilities" gorm:"serializer:json"`
	PagesScanned    int        `json:"pagesScanned" gorm:"default:0"`
	FormsFound      int        `json:"formsFound" gorm:"default:0"`
	EndpointsTested int        `json:"endpointsTested" gorm:"default:0"`
	CrawlStats      CrawlStats `json:"crawlStats" gorm:"serializer:json"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// IsTerminal returns true if the scan is in a terminal state.
func (s *Scan) IsTerminal() bool {
	return s.Status == ScanStatusCompleted || s.Status == ScanStatusFailed
}

// CreateScan persists a new scan record with status pending and no findings.
func (d *DatabaseConnection) CreateScan(id, url string) (*Scan, error) {
	scan := &Scan{
		ID:              id,
		URL:             url,
		Status:          ScanStatusPending,
		Vulnerabilities: []Finding{},
		CreatedAt:       time.Now(),
	}
	if err := d.db.Create(scan).Error; err != nil {
		return nil, err
	}
	return scan, nil
}

// GetScan fetches a scan record by id.
func (d *DatabaseConnection) GetScan(id string) (*Scan, error) {
	var scan Scan
	if err := d.db.First(&scan, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &scan, nil
}

// ListScans returns scans ordered by creation time, newest first.
func (d *DatabaseConnection) ListScans(page, pageSize int) ([]Scan, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	var scans []Scan
	var count int64
	if err := d.db.Model(&Scan{}).Count(&count).Error; err != nil {
		return nil, 0, err
	}
	err := d.db.Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&scans).Error
	return scans, count, err
}

// UpdateScanStatus sets only the status column.
func (d *DatabaseConnection) UpdateScanStatus(id string, status ScanStatus) error {
	return d.db.Model(&Scan{}).Where("id = ?", id).Update("status", status).Error
}

// SaveScanResult writes the final aggregated state of a scan.
func (d *DatabaseConnection) SaveScanResult(scan *Scan) error {
	return d.db.Save(scan).Error
}
