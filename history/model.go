package history

import (
	"time"

	"github.com/nvr-ai/go-detect/report"
)

// Scan is one stored image and the anomalies reported for it.
type Scan struct {
	ID        uint           `json:"id"`
	ImageURL  string         `json:"imageUrl"`
	Anomalies []report.Entry `json:"anomalies"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ScanModel is the GORM model for the scans table.
type ScanModel struct {
	ID        uint           `gorm:"primaryKey"`
	ImageURL  string         `gorm:"size:2048;not null"`
	CreatedAt time.Time      `gorm:"index;not null"`
	Anomalies []AnomalyModel `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (ScanModel) TableName() string {
	return "scans"
}

// AnomalyModel is the GORM model for the anomalies table.
type AnomalyModel struct {
	ID          uint   `gorm:"primaryKey"`
	ScanID      uint   `gorm:"index;not null"`
	Position    int    `gorm:"not null"`
	AnomalyName string `gorm:"size:255;not null"`
	Percentage  string `gorm:"size:16;not null"`
}

// TableName returns the table name for GORM.
func (AnomalyModel) TableName() string {
	return "anomalies"
}

// ToScan converts the GORM model to a Scan.
func (m *ScanModel) ToScan() Scan {
	entries := make([]report.Entry, len(m.Anomalies))
	for i, a := range m.Anomalies {
		entries[i] = report.Entry{AnomalyName: a.AnomalyName, Percentage: a.Percentage}
	}
	return Scan{
		ID:        m.ID,
		ImageURL:  m.ImageURL,
		Anomalies: entries,
		CreatedAt: m.CreatedAt,
	}
}

// ScanModelFromScan converts a Scan to a GORM model.
func ScanModelFromScan(s *Scan) *ScanModel {
	anomalies := make([]AnomalyModel, len(s.Anomalies))
	for i, a := range s.Anomalies {
		anomalies[i] = AnomalyModel{Position: i, AnomalyName: a.AnomalyName, Percentage: a.Percentage}
	}
	return &ScanModel{
		ID:        s.ID,
		ImageURL:  s.ImageURL,
		CreatedAt: s.CreatedAt,
		Anomalies: anomalies,
	}
}
