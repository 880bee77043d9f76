package datasource

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// row is one parsed line with its 1-based line number.
type row struct {
	line   int
	fields []string
}

// streamRows reads delimited rows from r and sends them on the returned
// channel. Blank lines are skipped and fields are trimmed. Both channels
// are closed when the input is exhausted or ctx is done.
func streamRows(ctx context.Context, r io.Reader, delim rune) (<-chan row, <-chan error) {
	rowCh := make(chan row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if delim != 0 {
			reader.Comma = delim
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "datasource: read cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "datasource: read row")
				return
			}
			line, _ := reader.FieldPos(0)

			for i, f := range fields {
				fields[i] = strings.TrimSpace(f)
			}

			select {
			case rowCh <- row{line: line, fields: fields}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "datasource: read cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
