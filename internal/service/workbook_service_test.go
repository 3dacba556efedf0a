package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"regnxt-workbook-be/internal/client"
	"regnxt-workbook-be/internal/dto"
	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/pkg/serverutils"
	"regnxt-workbook-be/internal/repository/memory"
	"regnxt-workbook-be/internal/websocket"
	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/events"
	"regnxt-workbook-be/pkg/sheet"
	"regnxt-workbook-be/pkg/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClient struct {
	sheetData func(ctx context.Context, sheetID int) (*sheet.RawGrid, error)
	saveData  func(ctx context.Context, req client.SaveDataRequest) error

	mu    sync.Mutex
	saved []client.SaveDataRequest
}

func (f *fakeClient) GetSheetData(ctx context.Context, token string, workbookID, sheetID int) (*sheet.RawGrid, error) {
	if f.sheetData != nil {
		return f.sheetData(ctx, sheetID)
	}
	return rawTwoByThree(), nil
}

func (f *fakeClient) GetTables(ctx context.Context, token string, workbookID int, includeSheets bool) ([]sheet.TableNode, error) {
	cells, invalid := 6, 1
	return []sheet.TableNode{{Key: "T1", Label: "Table 1", CellCount: &cells, InvalidCount: &invalid}}, nil
}

func (f *fakeClient) SaveData(ctx context.Context, token string, req client.SaveDataRequest) error {
	f.mu.Lock()
	f.saved = append(f.saved, req)
	f.mu.Unlock()
	if f.saveData != nil {
		return f.saveData(ctx, req)
	}
	return nil
}

func (f *fakeClient) saveCalls() []client.SaveDataRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.SaveDataRequest(nil), f.saved...)
}

func (f *fakeClient) GetVersions(ctx context.Context, token string, workbookID int) ([]client.Version, error) {
	return []client.Version{{VersionID: 3, Name: "v3"}}, nil
}

func (f *fakeClient) GetVersionData(ctx context.Context, token string, workbookID, versionID int) ([]client.VersionCell, error) {
	return []client.VersionCell{{CellID: 11, PrevValue: "1", NewValue: "2"}}, nil
}

func (f *fakeClient) DeleteVersion(ctx context.Context, token string, workbookID, versionID int) error {
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []websocket.SessionEvent
}

func (n *fakeNotifier) Notify(event websocket.SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeEvents struct {
	mu        sync.Mutex
	published []events.Event
}

func (f *fakeEvents) Publish(ctx context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

type fakeAudit struct {
	payloads [][]byte
}

func (f *fakeAudit) Publish(ctx context.Context, payload []byte) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

func rawTwoByThree() *sheet.RawGrid {
	row := func(id string, rowNr, firstCell int) sheet.RawRow {
		r := sheet.RawRow{RowID: sheet.RowID(id)}
		for col := 1; col <= 3; col++ {
			r.Cells = append(r.Cells, sheet.RawCell{
				CellID:  firstCell + col - 1,
				SheetID: 7,
				RowNr:   rowNr,
				ColNr:   col,
				Text:    "",
				Type:    sheet.CellNumber,
			})
		}
		return r
	}
	return &sheet.RawGrid{
		Columns:   []sheet.Column{{ColumnID: "c1", Label: "Amount"}, {ColumnID: "c2"}, {ColumnID: "c3"}},
		ValueRows: []sheet.RawRow{row("r1", 1, 11), row("r2", 2, 21)},
	}
}

type fixture struct {
	svc      IWorkbookService
	client   *fakeClient
	notifier *fakeNotifier
	events   *fakeEvents
	audit    *fakeAudit
	sessions *memory.SessionRepository
}

func newFixture() *fixture {
	f := &fixture{
		client:   &fakeClient{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		audit:    &fakeAudit{},
		sessions: memory.NewSessionRepository(time.Hour, time.Hour),
	}
	f.svc = NewWorkbookService(f.sessions, f.client, f.events, f.audit, nil, f.notifier, logger.NewNopLogger())
	return f
}

func (f *fixture) openLoaded(t *testing.T, userID string) dto.SessionRef {
	t.Helper()
	ctx := context.Background()
	view, err := f.svc.OpenSession(ctx, &dto.OpenSessionRequest{UserId: userID, Token: "tok", WorkbookId: 42})
	require.NoError(t, err)

	ref := dto.SessionRef{SessionId: view.ID, UserId: userID, Token: "tok"}
	_, err = f.svc.LoadSheet(ctx, &dto.LoadSheetRequest{SessionRef: ref, SheetId: 7, Label: "F 01.01", Table: "T1"})
	require.NoError(t, err)
	return ref
}

func edit(t *testing.T, svc IWorkbookService, ref dto.SessionRef, row string, col int, text string) *dto.RecordEditResponse {
	t.Helper()
	res, err := svc.RecordEdit(context.Background(), &dto.RecordEditRequest{SessionRef: ref, RowId: sheet.RowID(row), ColNr: col, Text: text})
	require.NoError(t, err)
	return res
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var appErr *serverutils.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Status
}

func TestSessionIsPrivateToItsOwner(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")

	_, err := f.svc.GetSession(context.Background(), dto.SessionRef{SessionId: ref.SessionId, UserId: "bob"}, false)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	view, err := f.svc.GetSession(context.Background(), ref, true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLoaded, view.Status)
	assert.Equal(t, 42, view.WorkbookID)
	require.NotNil(t, view.Data)
	assert.Len(t, view.Data.ValueRows, 2)
}

func TestSaveSubmitsSortedBatchAndClears(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")
	ctx := context.Background()

	edit(t, f.svc, ref, "r2", 3, "9")
	edit(t, f.svc, ref, "r1", 2, "5")
	res := edit(t, f.svc, ref, "r1", 1, "3")
	assert.True(t, res.Recorded)
	assert.Equal(t, 2, res.ChangedRowCount)
	assert.Equal(t, 3, res.ChangedCellCount)

	saved, err := f.svc.Save(ctx, &dto.SaveRequest{SessionRef: ref, Reason: "restatement"})
	require.NoError(t, err)
	assert.Equal(t, 3, saved.CellCount)
	assert.False(t, saved.Session.Dirty)
	assert.Nil(t, saved.Session.SelectedCell)

	calls := f.client.saveCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 42, calls[0].WorkbookID)
	assert.Equal(t, "restatement", calls[0].Reason)

	want := []changes.ChangedCell{
		{SheetID: 7, CellID: 11, RowNr: 1, ColNr: 1, PrevValue: changes.NullValue, NewValue: "3", CellCode: "Amount"},
		{SheetID: 7, CellID: 12, RowNr: 1, ColNr: 2, PrevValue: changes.NullValue, NewValue: "5", CellCode: "c2"},
		{SheetID: 7, CellID: 23, RowNr: 2, ColNr: 3, PrevValue: changes.NullValue, NewValue: "9", CellCode: "c3"},
	}
	if diff := cmp.Diff(want, calls[0].Cells); diff != "" {
		t.Errorf("submitted cells mismatch (-want +got):\n%s", diff)
	}

	pending, err := f.svc.PendingChanges(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, pending.Cells)
	assert.Nil(t, pending.LastChangeTimestamp)

	require.Len(t, f.events.published, 1)
	assert.Equal(t, events.TypeWorkbookDataSaved, f.events.published[0].EventType())

	require.Len(t, f.audit.payloads, 1)
	var msg dto.SaveAuditMessage
	require.NoError(t, json.Unmarshal(f.audit.payloads[0], &msg))
	assert.Equal(t, ref.SessionId, msg.SessionId)
	assert.Len(t, msg.Cells, 3)

	assert.Contains(t, f.notifier.types(), EventSaved)
	// the save refreshes the table counts
	assert.Equal(t, sheet.TotalCounts{TotalCellCount: 6, TotalInvalidCount: 1}, saved.Session.TotalCounts)
}

func TestSaveFailureKeepsChanges(t *testing.T) {
	f := newFixture()
	f.client.saveData = func(ctx context.Context, req client.SaveDataRequest) error {
		return &client.BackendError{Method: http.MethodPost, Path: "/RI/Workbook/Data", Status: 500, Body: "boom"}
	}
	ref := f.openLoaded(t, "alice")
	edit(t, f.svc, ref, "r1", 1, "3")

	_, err := f.svc.Save(context.Background(), &dto.SaveRequest{SessionRef: ref})
	assert.Equal(t, http.StatusBadGateway, statusOf(t, err))

	pending, err := f.svc.PendingChanges(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, pending.Cells, 1)
	assert.Empty(t, f.events.published)
	assert.Empty(t, f.audit.payloads)
	assert.Contains(t, f.notifier.types(), EventSaveFailed)

	// a retry is allowed and succeeds once the backend recovers
	f.client.saveData = nil
	_, err = f.svc.Save(context.Background(), &dto.SaveRequest{SessionRef: ref})
	require.NoError(t, err)
}

func TestSaveWithoutChanges(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")

	_, err := f.svc.Save(context.Background(), &dto.SaveRequest{SessionRef: ref})
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(t, err))
	assert.Empty(t, f.client.saveCalls())
}

func TestConcurrentSavesSubmitOnce(t *testing.T) {
	f := newFixture()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.client.saveData = func(ctx context.Context, req client.SaveDataRequest) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	ref := f.openLoaded(t, "alice")
	edit(t, f.svc, ref, "r1", 1, "3")

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	save := func() {
		defer wg.Done()
		if _, err := f.svc.Save(context.Background(), &dto.SaveRequest{SessionRef: ref}); err == nil {
			succeeded.Add(1)
		}
	}

	wg.Add(1)
	go save()
	<-entered

	// edits are refused while the batch is in flight
	_, err := f.svc.RecordEdit(context.Background(), &dto.RecordEditRequest{SessionRef: ref, RowId: "r1", ColNr: 2, Text: "4"})
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	wg.Add(1)
	go save()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, f.client.saveCalls(), 1)
	assert.GreaterOrEqual(t, succeeded.Load(), int32(1))
}

func TestStaleSheetResponseIsDiscarded(t *testing.T) {
	f := newFixture()
	entered := make(chan struct{})
	release := make(chan struct{})
	f.client.sheetData = func(ctx context.Context, sheetID int) (*sheet.RawGrid, error) {
		if sheetID == 1 {
			close(entered)
			<-release
			return &sheet.RawGrid{ValueRows: []sheet.RawRow{{RowID: "old"}}}, nil
		}
		return rawTwoByThree(), nil
	}

	ctx := context.Background()
	view, err := f.svc.OpenSession(ctx, &dto.OpenSessionRequest{UserId: "alice", WorkbookId: 42})
	require.NoError(t, err)
	ref := dto.SessionRef{SessionId: view.ID, UserId: "alice"}

	slow := make(chan error, 1)
	go func() {
		_, err := f.svc.LoadSheet(ctx, &dto.LoadSheetRequest{SessionRef: ref, SheetId: 1})
		slow <- err
	}()
	<-entered

	_, err = f.svc.LoadSheet(ctx, &dto.LoadSheetRequest{SessionRef: ref, SheetId: 7})
	require.NoError(t, err)

	close(release)
	assert.Equal(t, http.StatusConflict, statusOf(t, <-slow))

	current, err := f.svc.GetSession(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, sheet.RowID("r1"), current.Data.ValueRows[0].RowID)
	assert.Equal(t, 7, current.SelectedSheet.SheetID)
}

func TestLoadFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.client.sheetData = func(ctx context.Context, sheetID int) (*sheet.RawGrid, error) {
		return nil, client.ErrNoData
	}
	ctx := context.Background()
	view, err := f.svc.OpenSession(ctx, &dto.OpenSessionRequest{UserId: "alice", WorkbookId: 42})
	require.NoError(t, err)
	ref := dto.SessionRef{SessionId: view.ID, UserId: "alice"}

	_, err = f.svc.LoadSheet(ctx, &dto.LoadSheetRequest{SessionRef: ref, SheetId: 7})
	assert.Equal(t, http.StatusBadGateway, statusOf(t, err))

	current, err := f.svc.GetSession(ctx, ref, false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, current.Status)
	assert.Equal(t, "no data received", current.Error)
	assert.Contains(t, f.notifier.types(), EventLoadFailed)
}

func TestEditErrors(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")

	tests := []struct {
		name   string
		row    string
		col    int
		status int
	}{
		{"unknown row", "r9", 1, http.StatusNotFound},
		{"unknown column", "r1", 9, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordEdit(context.Background(), &dto.RecordEditRequest{SessionRef: ref, RowId: sheet.RowID(tt.row), ColNr: tt.col, Text: "1"})
			assert.Equal(t, tt.status, statusOf(t, err))
		})
	}
}

func TestDialogAndSelection(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")
	ctx := context.Background()

	require.NoError(t, f.svc.SelectCell(ctx, &dto.SelectCellRequest{SessionRef: ref, RowId: "r1", ColumnId: "c1", Label: "Amount"}))
	res, err := f.svc.SetDialog(ctx, &dto.SetDialogRequest{SessionRef: ref, IsOpen: true, DialogType: "comment"})
	require.NoError(t, err)
	assert.False(t, res.ShouldCloseOnOutsideClick)

	res, err = f.svc.SetDialog(ctx, &dto.SetDialogRequest{SessionRef: ref, IsOpen: false, DialogType: "comment"})
	require.NoError(t, err)
	assert.True(t, res.ShouldCloseOnOutsideClick)
	assert.Empty(t, res.Dialog.DialogType)

	view, err := f.svc.GetSession(ctx, ref, false)
	require.NoError(t, err)
	require.NotNil(t, view.SelectedCell)
	assert.Equal(t, "c1", view.SelectedCell.ColumnID)

	require.NoError(t, f.svc.ClearSelection(ctx, ref))
	view, err = f.svc.GetSession(ctx, ref, false)
	require.NoError(t, err)
	assert.Nil(t, view.SelectedCell)
}

func TestDiscardAndClose(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")
	ctx := context.Background()

	edit(t, f.svc, ref, "r1", 1, "3")
	require.NoError(t, f.svc.DiscardChanges(ctx, ref))
	pending, err := f.svc.PendingChanges(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, pending.Cells)

	require.NoError(t, f.svc.CloseSession(ctx, ref))
	_, err = f.svc.GetSession(ctx, ref, false)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
	assert.Contains(t, f.notifier.types(), EventClosed)
}

func TestExportChanges(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")
	edit(t, f.svc, ref, "r1", 1, "3")

	raw, err := f.svc.ExportChanges(context.Background(), ref)
	require.NoError(t, err)
	// xlsx files are zip archives
	assert.Equal(t, []byte("PK"), raw[:2])
}

func TestVersionsUseSessionWorkbook(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")
	ctx := context.Background()

	versions, err := f.svc.ListVersions(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 3, versions[0].VersionID)

	cells, err := f.svc.GetVersionData(ctx, ref, 3)
	require.NoError(t, err)
	assert.Len(t, cells, 1)

	require.NoError(t, f.svc.DeleteVersion(ctx, ref, 3))
}

func TestSaveHistoryWithoutDatabase(t *testing.T) {
	f := newFixture()
	ref := f.openLoaded(t, "alice")

	res, err := f.svc.ListSaveHistory(context.Background(), ref, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Total)
}
