package sink

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apthunt/harvester/models"
)

func sampleListings() []models.Listing {
	scraped := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.Listing{
		{
			Address:      "123 Main St Apt 4",
			Price:        1850,
			Bedrooms:     1,
			Neighborhood: "Capitol Hill",
			URL:          "https://example.com/listings/123-main",
			ScrapedAt:    scraped,
		},
		{
			Address:      "55 Pine Ave",
			Price:        2100.50,
			Bedrooms:     2,
			Neighborhood: "Fremont",
			URL:          "https://example.com/listings/55-pine",
			ScrapedAt:    scraped,
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter() error = %v", err)
	}

	if err := writer.Write(sampleListings()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3 (header + 2 rows)", len(records))
	}

	wantHeader := []string{"address", "price", "bedrooms", "neighborhood", "url", "scraped_at"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}
	if records[1][0] != "123 Main St Apt 4" {
		t.Errorf("row address = %q, want %q", records[1][0], "123 Main St Apt 4")
	}
	if records[1][1] != "1850.00" {
		t.Errorf("row price = %q, want %q", records[1][1], "1850.00")
	}
	if records[2][2] != "2" {
		t.Errorf("row bedrooms = %q, want %q", records[2][2], "2")
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("NewJSONWriter() error = %v", err)
	}

	if err := writer.Write(sampleListings()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("line count = %d, want 2", len(lines))
	}

	var got models.Listing
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if got.Address != "55 Pine Ave" {
		t.Errorf("Address = %q, want %q", got.Address, "55 Pine Ave")
	}
	if got.Price != 2100.50 {
		t.Errorf("Price = %v, want %v", got.Price, 2100.50)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "listings.csv")
	jsonPath := filepath.Join(dir, "listings.json")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("NewDualWriter() error = %v", err)
	}

	if err := writer.Write(sampleListings()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, path := range []string{csvPath, jsonPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", path)
		}
	}
}

func TestCSVWriterCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "listings.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}
