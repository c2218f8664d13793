package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubTransactor struct {
	calls int
	err   error
}

func (s *stubTransactor) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	s.calls++
	if err := fn(nil); err != nil {
		return err
	}
	return s.err
}

type stubWriter struct {
	written []domain.Snapshot
	err     error
}

func (w *stubWriter) Write(_ context.Context, s domain.Snapshot) (domain.Registration, error) {
	if w.err != nil {
		return domain.Registration{}, w.err
	}
	w.written = append(w.written, s)
	return domain.Registration{ID: int64(len(w.written)), UUID: s.UUID, Actor: s.Actor, Note: s.Note}, nil
}

func newTestService() (*Service, *stubTransactor, *stubWriter) {
	tx := &stubTransactor{}
	writer := &stubWriter{}
	svc := NewService(tx, logrus.NewEntry(logrus.New()), WithWriterFactory(func(repository.DB) repository.SnapshotWriter {
		return writer
	}))
	return svc, tx, writer
}

const (
	unitA = "6ff6cfd8-d5a0-4d68-a0ff-bf0e5eed6c0f"
	unitB = "1a6b3e61-7c76-4bb6-a51c-a9a1d0e3e6a4"
	root  = "456362c4-0ee4-4e5e-a72c-751239745e62"
)

func TestIngestWritesOneSnapshotPerObject(t *testing.T) {
	svc, tx, writer := newTestService()
	actor := uuid.New()
	note := "initial load"

	data := "\xEF\xBB\xBFUUID,user_key,valid_from,valid_to,name,parent_uuid,unit_type_uuid\n" +
		unitA + ",A,2020-01-01,2022-01-01,Old name," + root + ",\n" +
		unitB + ",B,2021-06-01,,Unit B," + root + ",\n" +
		unitA + ",A,2022-01-01,,New name," + root + ",\n" +
		",,,,,,\n"

	summary, err := svc.Ingest(context.Background(), Request{
		Kind:     domain.KindOrgUnit,
		FileName: "units.csv",
		Actor:    actor,
		Note:     &note,
		Data:     strings.NewReader(data),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalRows)
	assert.Equal(t, 3, summary.ValidRows)
	assert.Equal(t, 0, summary.InvalidRows)
	assert.Equal(t, 2, summary.Objects)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1, tx.calls)

	require.Len(t, writer.written, 2)
	a := writer.written[0]
	assert.Equal(t, uuid.MustParse(unitA), a.UUID)
	assert.Equal(t, domain.KindOrgUnit, a.Kind)
	assert.Equal(t, actor, a.Actor)
	assert.Equal(t, &note, a.Note)
	require.Len(t, a.Versions, 2)
	assert.Equal(t, "Old name", *a.Versions[0].Name)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), *a.Versions[0].ValidTo)
	assert.Equal(t, "New name", *a.Versions[1].Name)
	assert.Nil(t, a.Versions[1].ValidTo)
	assert.Nil(t, a.Versions[1].UnitType)
	assert.Equal(t, uuid.MustParse(root), *a.Versions[1].Parent)
}

func TestIngestSkipsObjectsWithInvalidRows(t *testing.T) {
	svc, _, writer := newTestService()

	data := "uuid,user_key,valid_from,valid_to,name\n" +
		unitA + ",A,2020-01-01,,Fine\n" +
		unitB + ",B,2020-01-01,2021-01-01,First\n" +
		unitB + ",B,not-a-date,,Second\n" +
		"nope,C,2020-01-01,,Broken\n"

	summary, err := svc.Ingest(context.Background(), Request{
		Kind:     domain.KindITSystem,
		FileName: "systems.csv",
		Actor:    uuid.New(),
		Data:     strings.NewReader(data),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.TotalRows)
	assert.Equal(t, 1, summary.ValidRows)
	assert.Equal(t, 3, summary.InvalidRows)
	assert.Equal(t, 1, summary.Objects)
	assert.Equal(t, 1, summary.SkippedObjects)

	rows := make([]int, len(summary.Errors))
	for i, e := range summary.Errors {
		rows[i] = e.Row
	}
	assert.Equal(t, []int{3, 4, 5}, rows)
	assert.Contains(t, summary.Errors[1].Message, "invalid valid_from")

	require.Len(t, writer.written, 1)
	assert.Equal(t, uuid.MustParse(unitA), writer.written[0].UUID)
}

func TestIngestRejectsOverlappingVersions(t *testing.T) {
	svc, tx, writer := newTestService()

	data := "uuid,user_key,valid_from,valid_to\n" +
		unitA + ",A,2020-01-01,2022-01-01\n" +
		unitA + ",A,2021-01-01,\n"

	summary, err := svc.Ingest(context.Background(), Request{
		Kind:     domain.KindFacet,
		FileName: "facets.csv",
		Actor:    uuid.New(),
		Data:     strings.NewReader(data),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Objects)
	assert.Equal(t, 2, summary.InvalidRows)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 3, summary.Errors[0].Row)
	assert.Contains(t, summary.Errors[0].Message, "overlaps")
	assert.Zero(t, tx.calls)
	assert.Empty(t, writer.written)
}

func TestIngestRejectsBadInput(t *testing.T) {
	actor := uuid.New()
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{
			name: "unknown kind",
			req:  Request{Kind: "widget", FileName: "w.csv", Actor: actor, Data: strings.NewReader("uuid\n")},
			msg:  `unknown entity kind "widget"`,
		},
		{
			name: "missing actor",
			req:  Request{Kind: domain.KindFacet, FileName: "f.csv", Data: strings.NewReader("uuid\n")},
			msg:  "actor is required",
		},
		{
			name: "unsupported format",
			req:  Request{Kind: domain.KindFacet, FileName: "f.json", Actor: actor, Data: strings.NewReader("{}")},
			msg:  `unsupported file format: ".json"`,
		},
		{
			name: "empty file",
			req:  Request{Kind: domain.KindFacet, FileName: "f.csv", Actor: actor, Data: strings.NewReader("")},
			msg:  "file is empty",
		},
		{
			name: "unknown column",
			req:  Request{Kind: domain.KindFacet, FileName: "f.csv", Actor: actor, Data: strings.NewReader("uuid,user_key,colour\n")},
			msg:  `unknown column "colour" for facet`,
		},
		{
			name: "missing user_key column",
			req:  Request{Kind: domain.KindFacet, FileName: "f.csv", Actor: actor, Data: strings.NewReader("uuid,valid_from\n")},
			msg:  `missing column "user_key"`,
		},
		{
			name: "no header",
			req:  Request{Kind: domain.KindFacet, FileName: "f.csv", Actor: actor, Data: strings.NewReader(",,\n")},
			msg:  "no header row detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.Ingest(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, apperror.CodeInvalidInput, apperror.CodeOf(err))
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

func TestIngestRollsBackOnWriteFailure(t *testing.T) {
	svc, _, writer := newTestService()
	writer.err = errors.New("deadlock detected")

	summary, err := svc.Ingest(context.Background(), Request{
		Kind:     domain.KindFacet,
		FileName: "facets.csv",
		Actor:    uuid.New(),
		Data:     strings.NewReader("uuid,user_key\n" + unitA + ",A\n"),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "deadlock detected")
	assert.False(t, apperror.IsCaller(err))
	assert.Zero(t, summary.Objects)
}

func TestIngestReadsExcel(t *testing.T) {
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"uuid", "user_key", "valid_from", "cpr_number"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{unitA, "anna", "2019-03-01T00:00:00Z", "0101701234"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	svc, _, writer := newTestService()
	summary, err := svc.Ingest(context.Background(), Request{
		Kind:     domain.KindEmployee,
		FileName: "people.XLSX",
		Actor:    uuid.New(),
		Data:     &buf,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Objects)
	require.Len(t, writer.written, 1)
	v := writer.written[0].Versions[0]
	assert.Equal(t, "anna", v.UserKey)
	assert.Equal(t, "0101701234", *v.CPRNumber)
	assert.Equal(t, time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC), *v.ValidFrom)
}

func TestHTTPHandler(t *testing.T) {
	svc, _, writer := newTestService()
	handler := auth.ActorMiddleware(newMux(svc))

	body, contentType := multipartBody(t, "facets.csv", "uuid,user_key\n"+unitA+",A\n", "bulk")

	t.Run("imports", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/import/facet", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(auth.ActorHeader, uuid.NewString())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"objects": 1`)
		require.Len(t, writer.written, 1)
		assert.Equal(t, "bulk", *writer.written[0].Note)
	})

	t.Run("requires actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/import/facet", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"INVALID_INPUT"`)
	})

	t.Run("unknown kind", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/import/widget", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(auth.ActorHeader, uuid.NewString())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func newMux(svc *Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/import/{kind}", NewHTTPHandler(svc, logrus.NewEntry(logrus.New())))
	return mux
}

func multipartBody(t *testing.T, name, content, note string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("note", note))
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}
