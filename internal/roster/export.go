package roster

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hoomaan/roster-service/internal/model"
)

// isoMillis is the export timestamp rendering: millisecond precision,
// always UTC.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Exporter drains the full roster through the pager to build CSV dumps.
// Exports always start from scratch; a failed run is re-issued, not resumed.
type Exporter struct {
	index *Index
	// batchSize is the page size used while draining. A multiple of the
	// interactive page size, purely for I/O efficiency.
	batchSize int
}

// NewExporter creates an Exporter that drains in batches of batchSize.
func NewExporter(index *Index, batchSize int) *Exporter {
	return &Exporter{index: index, batchSize: batchSize}
}

// Users drains every resolvable user record, newest first.
func (e *Exporter) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	var cursor *string
	for {
		page, err := e.index.FetchPage(ctx, cursor, e.batchSize)
		if err != nil {
			return nil, err
		}
		users = append(users, page.Users...)
		if page.Complete || page.NextCursor == nil {
			return users, nil
		}
		cursor = page.NextCursor
	}
}

// UsersCSV renders the full user roster as CSV.
func (e *Exporter) UsersCSV(ctx context.Context) (string, error) {
	users, err := e.Users(ctx)
	if err != nil {
		return "", err
	}
	rows := [][]string{model.UserCSVHeader}
	for _, u := range users {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			atUsername(u.Username),
			u.FirstName,
			u.LastName,
			u.SeenAt().UTC().Format(isoMillis),
		})
	}
	return buildCSV(rows), nil
}

// PhonesCSV renders every stored phone number joined with its user record.
func (e *Exporter) PhonesCSV(ctx context.Context) (string, error) {
	rows := [][]string{model.PhoneCSVHeader}
	cursor := ""
	for {
		res, err := e.index.kv.List(ctx, phoneKeyPrefix, cursor, e.batchSize)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPageUnavailable, err)
		}
		for _, entry := range res.Entries {
			idPart := strings.TrimPrefix(entry.Key, phoneKeyPrefix)
			id, err := strconv.ParseInt(idPart, 10, 64)
			if err != nil {
				continue
			}
			row := []string{idPart, string(entry.Value), "", "", "", ""}
			if u, err := e.index.GetUser(ctx, id); err == nil && u != nil {
				row[2] = atUsername(u.Username)
				row[3] = u.FirstName
				row[4] = u.LastName
				row[5] = u.SeenAt().UTC().Format(isoMillis)
			}
			rows = append(rows, row)
		}
		if res.Complete || res.NextCursor == "" {
			return buildCSV(rows), nil
		}
		cursor = res.NextCursor
	}
}

func atUsername(username string) string {
	if username == "" {
		return ""
	}
	return "@" + username
}

// buildCSV joins rows with newlines, wrapping every field in double quotes
// with internal quotes doubled. No trailing newline.
func buildCSV(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, field := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(field, `"`, `""`))
			b.WriteByte('"')
		}
	}
	return b.String()
}
