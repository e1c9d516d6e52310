package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, dir string, year int, rows [][]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, "details-"+itoa(year)+".csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	header := "event_id,state,year,month_name,event_type,cz_type,cz_name,injuries_direct,injuries_indirect,deaths_direct,deaths_indirect,damage_property,damage_crops,tor_f_scale\n"
	if _, err := f.WriteString(header); err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		line := ""
		for i, v := range row {
			if i > 0 {
				line += ","
			}
			line += v
		}
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func fullRow(eventID string) []string {
	row := make([]string, 14)
	row[0] = eventID
	for i := 1; i < 14; i++ {
		row[i] = "x"
	}
	return row
}

func TestLoadSkipsHeaderAndParses(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, 1950, [][]string{fullRow("383097"), fullRow("10120412")})

	l := NewLoader(dir, 4)
	records, err := l.Load(1950)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	id, err := records[1].EventID()
	if err != nil || id != 10120412 {
		t.Fatalf("EventID = (%d, %v), want (10120412, nil)", id, err)
	}
}

func TestLoadCachesByYear(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, 1951, [][]string{fullRow("1")})

	l := NewLoader(dir, 4)
	if _, err := l.Load(1951); err != nil {
		t.Fatal(err)
	}
	// Remove the file; a cache hit should still succeed.
	if err := os.Remove(filepath.Join(dir, "details-1951.csv")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(1951); err != nil {
		t.Fatalf("expected cached Load to succeed after file removal, got %v", err)
	}
}
