package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	defaultPageSize = 1000
	sheetName       = "Sheet1"
)

// Format is the tabular encoding of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a request parameter onto a Format; empty selects CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", apperror.InvalidInput("unsupported export format %q", raw)
}

// ContentType returns the media type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Service streams every version of a kind overlapping a validity window as
// rows laid out by domain.Descriptor.Columns, the layout ingestion accepts.
type Service struct {
	objects  repository.ObjectRepository
	pageSize int
	logger   *logrus.Entry
}

// Option configures the service.
type Option func(*Service)

// WithPageSize sets how many objects are read from the store per query.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewService creates a new export service.
func NewService(objects repository.ObjectRepository, logger *logrus.Entry, opts ...Option) *Service {
	s := &Service{
		objects:  objects,
		pageSize: defaultPageSize,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request selects the rows to export.
type Request struct {
	Kind   domain.Kind
	Format Format
	Window domain.Window
	// RegistrationTime pins every page to the same registration.
	RegistrationTime time.Time
}

// Export writes the selected versions to w and returns the number of rows written.
func (s *Service) Export(ctx context.Context, w io.Writer, req Request) (int, error) {
	d, err := domain.Describe(req.Kind)
	if err != nil {
		return 0, apperror.InvalidInput("%s", err.Error())
	}

	counter := &countingWriter{writer: bufio.NewWriterSize(w, 1<<16)}
	var out rowWriter
	switch req.Format {
	case FormatXLSX:
		out, err = newXLSXWriter(counter)
	default:
		out = newCSVWriter(counter)
	}
	if err != nil {
		return 0, err
	}

	columns := d.Columns()
	if err := out.WriteRow(columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	row := make([]string, len(columns))
	for offset := 0; ; offset += s.pageSize {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		limit := s.pageSize
		versions, err := s.objects.List(ctx, domain.Query{
			Kind:             req.Kind,
			Window:           req.Window,
			RegistrationTime: req.RegistrationTime,
			Limit:            &limit,
			Offset:           offset,
		})
		if err != nil {
			return rows, fmt.Errorf("list %s versions: %w", req.Kind, err)
		}

		objects := domain.GroupByUUID(versions, nil)
		for _, obj := range objects {
			for i := range obj.Versions {
				for c, col := range columns {
					row[c] = cellValue(&obj.Versions[i], col)
				}
				if err := out.WriteRow(row); err != nil {
					return rows, fmt.Errorf("write row: %w", err)
				}
				rows++
			}
		}
		if len(objects) < s.pageSize {
			break
		}
	}

	if err := out.Close(); err != nil {
		return rows, fmt.Errorf("finish %s export: %w", req.Format, err)
	}
	if err := counter.writer.Flush(); err != nil {
		return rows, fmt.Errorf("flush export: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"kind":   req.Kind,
		"format": req.Format,
		"rows":   rows,
		"bytes":  counter.count,
	}).Info("export finished")
	return rows, nil
}

type rowWriter interface {
	WriteRow(row []string) error
	Close() error
}

type csvWriter struct {
	w *csv.Writer
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func (c *csvWriter) WriteRow(row []string) error {
	return c.w.Write(row)
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

// xlsxWriter buffers the workbook in a stream writer; the archive can only be
// emitted once every row is known.
type xlsxWriter struct {
	out    io.Writer
	file   *excelize.File
	stream *excelize.StreamWriter
	next   int
}

func newXLSXWriter(out io.Writer) (*xlsxWriter, error) {
	f := excelize.NewFile()
	stream, err := f.NewStreamWriter(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create xlsx stream: %w", err)
	}
	return &xlsxWriter{out: out, file: f, stream: stream, next: 1}, nil
}

func (x *xlsxWriter) WriteRow(row []string) error {
	cell, err := excelize.CoordinatesToCellName(1, x.next)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	if err := x.stream.SetRow(cell, values); err != nil {
		return err
	}
	x.next++
	return nil
}

func (x *xlsxWriter) Close() error {
	defer func() { _ = x.file.Close() }()
	if err := x.stream.Flush(); err != nil {
		return err
	}
	return x.file.Write(x.out)
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func cellValue(v *domain.Version, column string) string {
	switch column {
	case domain.ColumnValidFrom:
		return formatTime(v.ValidFrom)
	case domain.ColumnValidTo:
		return formatTime(v.ValidTo)
	}
	switch value := v.Target(domain.Field(column)).(type) {
	case *uuid.UUID:
		return value.String()
	case *string:
		return *value
	case **uuid.UUID:
		if *value == nil {
			return ""
		}
		return (*value).String()
	case **string:
		if *value == nil {
			return ""
		}
		return **value
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
