package roster

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCohortOf(t *testing.T) {
	tests := []struct {
		class string
		want  string
	}{
		{"KG1", "KG1"},
		{"kg2", "KG2"},
		{"Year 3", "Year 3"},
		{"year10", "Year 10"},
		{"Year  7B", "Year 7"},
		{"Staff", OtherCohort},
		{"", OtherCohort},
	}
	for _, tt := range tests {
		if got := CohortOf(tt.class); got != tt.want {
			t.Errorf("CohortOf(%q) = %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestSortCohorts(t *testing.T) {
	cohorts := []string{"KG2", "Year 1", "KG1", "Year 10", "Year 2", "Other"}
	SortCohorts(cohorts)
	want := []string{"KG1", "KG2", "Year 1", "Year 2", "Year 10", "Other"}
	if !reflect.DeepEqual(cohorts, want) {
		t.Errorf("SortCohorts = %v, want %v", cohorts, want)
	}
}

func TestStudentIDStable(t *testing.T) {
	a := NewStudent("  Adam   Kenz ", "Year 7")
	b := NewStudent("Adam Kenz", "Year 7")
	if a.ID != b.ID {
		t.Fatalf("ids differ: %q vs %q", a.ID, b.ID)
	}
	if a.ID != "adam_kenz_Year 7_Year 7" {
		t.Errorf("ID = %q", a.ID)
	}
	if a.Name != "Adam   Kenz" {
		t.Errorf("Name = %q, want ends trimmed and inner spacing kept", a.Name)
	}
}

func TestParseSkipsBadRows(t *testing.T) {
	input := "name,class\n" +
		"AILA ALLA,KG1\n" +
		"\n" +
		"   ,Year 2\n" +
		"lonely\n" +
		"AWES AYARI , Year 2 \n"
	students, err := Parse(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("got %d students, want 2: %+v", len(students), students)
	}
	if students[1].Name != "AWES AYARI" || students[1].Class != "Year 2" || students[1].Year != "Year 2" {
		t.Errorf("unexpected student %+v", students[1])
	}
}

func TestParseHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Parse(ctx, strings.NewReader("name,class\na,KG1\n")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type countingSource struct {
	body    string
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (s *countingSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

const sampleCSV = "name,class\nAILA ALLA,KG1\nADAM KENZ,Year 7\n"

func newTestLoader(t *testing.T, src Source, now *time.Time) *Loader {
	t.Helper()
	cache := NewFileCache(filepath.Join(t.TempDir(), "cache.json"))
	return NewLoader(src, cache, 5*time.Minute, WithClock(func() time.Time { return *now }))
}

func TestLoaderCachesWithinExpiry(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	src := &countingSource{body: sampleCSV}
	l := newTestLoader(t, src, &now)

	first, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	now = now.Add(4 * time.Minute)
	second, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached roster differs: %v vs %v", first, second)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("fetches after expiry = %d, want 2", got)
	}
}

func TestLoaderCoalescesConcurrentLoads(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	src := &countingSource{body: sampleCSV, release: make(chan struct{})}
	l := newTestLoader(t, src, &now)

	var wg sync.WaitGroup
	results := make([][]Student, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = l.Load(context.Background())
		}(i)
	}
	// Let every goroutine reach the in-flight fetch before it completes.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	for i, r := range results {
		if len(r) != 2 {
			t.Errorf("caller %d got %d students", i, len(r))
		}
	}
}

func TestLoaderFallsBack(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	src := &countingSource{err: errors.New("connection refused")}
	l := newTestLoader(t, src, &now)

	students, err := l.Load(context.Background())
	if !errors.Is(err, ErrDegraded) {
		t.Fatalf("err = %v, want ErrDegraded", err)
	}
	if len(students) != len(fixtureRows) {
		t.Errorf("fallback has %d students, want %d", len(students), len(fixtureRows))
	}
	if _, ok := l.Lookup(students[0].ID); !ok {
		t.Errorf("fallback students should be addressable by id")
	}

	// The fallback is not cached, so the next load retries the source.
	src.err = nil
	src.body = sampleCSV
	students, err = l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(students) != 2 || src.calls.Load() != 2 {
		t.Errorf("students=%d calls=%d", len(students), src.calls.Load())
	}
}

func TestLoaderRefreshRefetches(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	src := &countingSource{body: sampleCSV}
	l := newTestLoader(t, src, &now)

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	src.body = sampleCSV + "BAYA MEFTEH,Year 4\n"
	students, err := l.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(students) != 3 || src.calls.Load() != 2 {
		t.Errorf("students=%d calls=%d", len(students), src.calls.Load())
	}
}

func TestCohorts(t *testing.T) {
	got := Cohorts([]Student{
		NewStudent("a", "Year 2"), NewStudent("b", "KG1"), NewStudent("c", "Year 2"), NewStudent("d", "Staff"),
	})
	want := []string{"KG1", "Year 2", "Other"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Cohorts = %v, want %v", got, want)
	}
}
