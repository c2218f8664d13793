package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/metrics"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
)

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// WriterFactory binds a snapshot writer to a transaction.
type WriterFactory func(db repository.DB) repository.SnapshotWriter

// Service imports bitemporal snapshots from tabular files. Every object in a
// file is written as a new registration replacing its complete history.
type Service struct {
	tx        Transactor
	newWriter WriterFactory
	logger    *logrus.Entry
}

// Option configures the service.
type Option func(*Service)

// WithWriterFactory replaces the store-backed snapshot writer.
func WithWriterFactory(f WriterFactory) Option {
	return func(s *Service) {
		s.newWriter = f
	}
}

// NewService creates a new ingestion service.
func NewService(tx Transactor, logger *logrus.Entry, opts ...Option) *Service {
	s := &Service{
		tx:        tx,
		newWriter: repository.NewSnapshotWriter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes the ingestion input.
type Request struct {
	Kind     domain.Kind
	FileName string
	Actor    uuid.UUID
	Note     *string
	Data     io.Reader
}

// RowError reports why a row was not imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	TotalRows      int        `json:"totalRows"`
	ValidRows      int        `json:"validRows"`
	InvalidRows    int        `json:"invalidRows"`
	Objects        int        `json:"objects"`
	SkippedObjects int        `json:"skippedObjects"`
	Errors         []RowError `json:"errors"`
}

type tableData struct {
	headers []string
	rows    [][]string
	// rowNumbers holds the 1-based file row of each entry in rows.
	rowNumbers []int
}

type parsedRow struct {
	number  int
	version domain.Version
}

// Ingest parses the file, validates every row and writes one snapshot per
// object in a single transaction. Objects with any invalid row are skipped
// whole, since a partial history would replace the stored one.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Errors: []RowError{}}

	d, err := domain.Describe(req.Kind)
	if err != nil {
		return summary, apperror.InvalidInput("%s", err.Error())
	}
	if req.Actor == uuid.Nil {
		return summary, apperror.InvalidInput("actor is required")
	}
	if req.Data == nil {
		return summary, apperror.InvalidInput("file is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, apperror.InvalidInput("file is empty")
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}
	if err := checkHeaders(d, table.headers); err != nil {
		return summary, err
	}
	summary.TotalRows = len(table.rows)

	var parsed []parsedRow
	invalid := make(map[uuid.UUID]bool)
	for i, row := range table.rows {
		v, err := parseVersion(d, table.headers, row)
		if err != nil {
			summary.Errors = append(summary.Errors, RowError{Row: table.rowNumbers[i], Message: err.Error()})
			summary.InvalidRows++
			if v.UUID != uuid.Nil {
				invalid[v.UUID] = true
			}
			continue
		}
		parsed = append(parsed, parsedRow{number: table.rowNumbers[i], version: v})
	}

	snapshots := make([]domain.Snapshot, 0)
	for _, obj := range groupRows(parsed) {
		id := obj[0].version.UUID
		if invalid[id] {
			summary.SkippedObjects++
			summary.InvalidRows += len(obj)
			for _, r := range obj {
				summary.Errors = append(summary.Errors, RowError{Row: r.number, Message: fmt.Sprintf("object %s has invalid rows", id)})
			}
			continue
		}
		if r, ok := firstOverlap(obj); ok {
			summary.SkippedObjects++
			summary.InvalidRows += len(obj)
			summary.Errors = append(summary.Errors, RowError{Row: r.number, Message: fmt.Sprintf("validity overlaps another version of %s", id)})
			continue
		}

		versions := make([]domain.Version, len(obj))
		for i, r := range obj {
			versions[i] = r.version
		}
		snapshots = append(snapshots, domain.Snapshot{Kind: req.Kind, UUID: id, Actor: req.Actor, Note: req.Note, Versions: versions})
		summary.ValidRows += len(obj)
	}
	sort.Slice(summary.Errors, func(i, j int) bool { return summary.Errors[i].Row < summary.Errors[j].Row })

	if len(snapshots) > 0 {
		err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
			writer := s.newWriter(tx)
			for _, snap := range snapshots {
				if _, err := writer.Write(ctx, snap); err != nil {
					return fmt.Errorf("failed to write snapshot of %s: %w", snap.UUID, err)
				}
			}
			return nil
		})
		if err != nil {
			metrics.ObserveImportedRows(string(req.Kind), "failed", summary.TotalRows)
			return Summary{Errors: []RowError{}}, err
		}
		summary.Objects = len(snapshots)
	}

	metrics.ObserveImportedRows(string(req.Kind), "valid", summary.ValidRows)
	metrics.ObserveImportedRows(string(req.Kind), "invalid", summary.InvalidRows)
	s.logger.WithFields(logrus.Fields{
		"kind":         req.Kind,
		"file":         req.FileName,
		"actor":        req.Actor,
		"objects":      summary.Objects,
		"valid_rows":   summary.ValidRows,
		"invalid_rows": summary.InvalidRows,
	}).Info("snapshot import finished")
	return summary, nil
}

func checkHeaders(d domain.Descriptor, headers []string) error {
	known := make(map[string]bool)
	for _, c := range d.Columns() {
		known[c] = true
	}
	seen := make(map[string]bool)
	for _, h := range headers {
		if h == "" {
			continue
		}
		if !known[h] {
			return apperror.InvalidInput("unknown column %q for %s", h, d.Kind)
		}
		if seen[h] {
			return apperror.InvalidInput("duplicate column %q", h)
		}
		seen[h] = true
	}
	for _, required := range []string{string(domain.FieldUUID), string(domain.FieldUserKey)} {
		if !seen[required] {
			return apperror.InvalidInput("missing column %q", required)
		}
	}
	return nil
}

// parseVersion converts one row. The returned version carries the UUID even
// on error when the uuid cell itself was valid.
func parseVersion(d domain.Descriptor, headers []string, row []string) (domain.Version, error) {
	v := domain.Version{Kind: d.Kind}
	var errs []string
	for i, h := range headers {
		raw := ""
		if i < len(row) {
			raw = strings.TrimSpace(row[i])
		}
		switch h {
		case "":
		case string(domain.FieldUUID):
			id, err := uuid.Parse(raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid uuid %q", raw))
				continue
			}
			v.UUID = id
		case string(domain.FieldUserKey):
			if raw == "" {
				errs = append(errs, "user_key is required")
			}
			v.UserKey = raw
		case domain.ColumnValidFrom, domain.ColumnValidTo:
			if raw == "" {
				continue
			}
			t, err := parseTimestamp(raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid %s %q", h, raw))
				continue
			}
			if h == domain.ColumnValidFrom {
				v.ValidFrom = &t
			} else {
				v.ValidTo = &t
			}
		default:
			if raw == "" {
				continue
			}
			if err := setField(&v, domain.Field(h), raw); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if v.ValidFrom != nil && v.ValidTo != nil && !v.ValidFrom.Before(*v.ValidTo) {
		errs = append(errs, "valid_from must be before valid_to")
	}
	if len(errs) > 0 {
		return v, errors.New(strings.Join(errs, "; "))
	}
	return v, nil
}

func setField(v *domain.Version, f domain.Field, raw string) error {
	switch target := v.Target(f).(type) {
	case **string:
		s := raw
		*target = &s
	case **uuid.UUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q", f, raw)
		}
		*target = &id
	default:
		return fmt.Errorf("column %q cannot be imported", f)
	}
	return nil
}

// groupRows groups rows per UUID in first-seen order, each sorted by validity start.
func groupRows(rows []parsedRow) [][]parsedRow {
	index := make(map[uuid.UUID]int)
	var groups [][]parsedRow
	for _, r := range rows {
		i, ok := index[r.version.UUID]
		if !ok {
			i = len(groups)
			index[r.version.UUID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			a, b := g[i].version.ValidFrom, g[j].version.ValidFrom
			if a == nil || b == nil {
				return a == nil && b != nil
			}
			return a.Before(*b)
		})
	}
	return groups
}

// firstOverlap reports the first row whose validity starts before the previous one ends.
func firstOverlap(rows []parsedRow) (parsedRow, bool) {
	for i := 1; i < len(rows); i++ {
		prevEnd := rows[i-1].version.ValidTo
		start := rows[i].version.ValidFrom
		if prevEnd == nil || start == nil || start.Before(*prevEnd) {
			return rows[i], true
		}
	}
	return parsedRow{}, false
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, apperror.InvalidInput("%s: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, apperror.InvalidInput("failed to read csv: %v", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, apperror.InvalidInput("failed to open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, apperror.InvalidInput("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, apperror.InvalidInput("failed to read rows from xlsx: %v", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty record as the header row and drops
// empty records after it.
func normalizeTable(records [][]string) (tableData, error) {
	headerIndex := -1
	for i, r := range records {
		if !isEmptyRow(r) {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 {
		return tableData{}, apperror.InvalidInput("no header row detected")
	}

	table := tableData{headers: sanitizeHeaders(records[headerIndex])}
	for i := headerIndex + 1; i < len(records); i++ {
		if isEmptyRow(records[i]) {
			continue
		}
		table.rows = append(table.rows, records[i])
		table.rowNumbers = append(table.rowNumbers, i+1)
	}
	return table, nil
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return headers
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
