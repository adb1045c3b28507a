package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// checkEvery controls how often Parse looks at the context on large rosters.
const checkEvery = 50

// Parse reads `name,class` rows after a single header row. Rows with fewer
// than two fields, malformed quoting, or an empty name are skipped.
func Parse(ctx context.Context, r io.Reader) ([]Student, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var students []Student
	for line := 0; ; line++ {
		if line%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		if line == 0 || len(record) < 2 {
			continue
		}
		if strings.TrimSpace(record[0]) == "" {
			continue
		}
		students = append(students, NewStudent(record[0], record[1]))
	}
	return students, nil
}
