package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"regnxt-workbook-be/internal/client"
	"regnxt-workbook-be/internal/dto"
	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/pkg/serverutils"
	"regnxt-workbook-be/internal/repository/specification"
	"regnxt-workbook-be/internal/repository/unitofwork"
	"regnxt-workbook-be/internal/websocket"
	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/events"
	"regnxt-workbook-be/pkg/export"
	"regnxt-workbook-be/pkg/sheet"
	"regnxt-workbook-be/pkg/store"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Session event types pushed to websocket watchers.
const (
	EventSheetLoaded    = "sheet_loaded"
	EventTablesLoaded   = "tables_loaded"
	EventLoadFailed     = "load_failed"
	EventChangesUpdated = "changes_updated"
	EventSaved          = "saved"
	EventSaveFailed     = "save_failed"
	EventConflict       = "conflict"
	EventClosed         = "closed"
)

// SessionStore holds the open editor sessions.
type SessionStore interface {
	Save(session *store.Session)
	Get(sessionID string) (*store.Session, bool)
	Delete(sessionID string)
	FindByWorkbook(workbookID int) []*store.Session
}

// EventPublisher sends domain events to the bus shared by all instances.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// SessionNotifier pushes session events to connected editors.
type SessionNotifier interface {
	Notify(event websocket.SessionEvent)
}

type IWorkbookService interface {
	OpenSession(ctx context.Context, req *dto.OpenSessionRequest) (*store.SessionView, error)
	GetSession(ctx context.Context, ref dto.SessionRef, withData bool) (*store.SessionView, error)
	CloseSession(ctx context.Context, ref dto.SessionRef) error
	LoadSheet(ctx context.Context, req *dto.LoadSheetRequest) (*store.SessionView, error)
	LoadTables(ctx context.Context, req *dto.LoadTablesRequest) (*dto.TablesResponse, error)
	RecordEdit(ctx context.Context, req *dto.RecordEditRequest) (*dto.RecordEditResponse, error)
	PendingChanges(ctx context.Context, ref dto.SessionRef) (*dto.PendingChangesResponse, error)
	ExportChanges(ctx context.Context, ref dto.SessionRef) ([]byte, error)
	DiscardChanges(ctx context.Context, ref dto.SessionRef) error
	SelectCell(ctx context.Context, req *dto.SelectCellRequest) error
	ClearSelection(ctx context.Context, ref dto.SessionRef) error
	SetDialog(ctx context.Context, req *dto.SetDialogRequest) (*dto.DialogResponse, error)
	Save(ctx context.Context, req *dto.SaveRequest) (*dto.SaveResponse, error)
	ListVersions(ctx context.Context, ref dto.SessionRef) ([]client.Version, error)
	GetVersionData(ctx context.Context, ref dto.SessionRef, versionID int) ([]client.VersionCell, error)
	DeleteVersion(ctx context.Context, ref dto.SessionRef, versionID int) error
	ListSaveHistory(ctx context.Context, ref dto.SessionRef, limit, offset int) (*dto.SaveHistoryResponse, error)
}

type workbookService struct {
	sessions   SessionStore
	client     client.IWorkbookClient
	events     EventPublisher
	audit      IPublisherService
	uowFactory unitofwork.RepositoryFactory
	notifier   SessionNotifier
	logger     logger.ILogger

	saves singleflight.Group
}

// NewWorkbookService wires the editor operations. events, audit, uowFactory and
// notifier may be nil when the matching infrastructure is not configured.
func NewWorkbookService(
	sessions SessionStore,
	workbookClient client.IWorkbookClient,
	eventPublisher EventPublisher,
	auditPublisher IPublisherService,
	uowFactory unitofwork.RepositoryFactory,
	notifier SessionNotifier,
	log logger.ILogger,
) IWorkbookService {
	return &workbookService{
		sessions:   sessions,
		client:     workbookClient,
		events:     eventPublisher,
		audit:      auditPublisher,
		uowFactory: uowFactory,
		notifier:   notifier,
		logger:     log,
	}
}

func (s *workbookService) OpenSession(ctx context.Context, req *dto.OpenSessionRequest) (*store.SessionView, error) {
	sess := store.NewSession(uuid.NewString(), req.WorkbookId, req.UserId)
	s.sessions.Save(sess)

	s.logger.Info("WORKBOOK", "Session opened", map[string]interface{}{
		"session_id":  sess.ID,
		"workbook_id": sess.WorkbookID,
		"user_id":     sess.UserID,
	})
	view := sess.Snapshot(false)
	return &view, nil
}

func (s *workbookService) GetSession(ctx context.Context, ref dto.SessionRef, withData bool) (*store.SessionView, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	view := sess.Snapshot(withData)
	return &view, nil
}

func (s *workbookService) CloseSession(ctx context.Context, ref dto.SessionRef) error {
	sess, err := s.session(ref)
	if err != nil {
		return err
	}
	sess.Reset()
	s.sessions.Delete(sess.ID)
	s.notify(sess.ID, EventClosed, nil)
	s.logger.Info("WORKBOOK", "Session closed", map[string]interface{}{"session_id": sess.ID})
	return nil
}

func (s *workbookService) LoadSheet(ctx context.Context, req *dto.LoadSheetRequest) (*store.SessionView, error) {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return nil, err
	}

	sess.SelectSheet(store.SelectedSheet{
		Label:        req.Label,
		Table:        req.Table,
		SheetID:      req.SheetId,
		CellCount:    req.CellCount,
		InvalidCount: req.InvalidCount,
	})
	if err := s.loadSheet(ctx, sess, req.Token, req.SheetId); err != nil {
		return nil, err
	}

	view := sess.Snapshot(true)
	return &view, nil
}

func (s *workbookService) loadSheet(ctx context.Context, sess *store.Session, token string, sheetID int) error {
	seq := sess.BeginLoad(store.FetchSheet)

	raw, err := s.client.GetSheetData(ctx, token, sess.WorkbookID, sheetID)
	if err != nil {
		return s.failLoad(sess, store.FetchSheet, seq, err)
	}

	if err := sess.CompleteSheetLoad(seq, sheet.Decode(*raw)); err != nil {
		return superseded(err)
	}
	s.notify(sess.ID, EventSheetLoaded, map[string]interface{}{"sheetId": sheetID})
	return nil
}

func (s *workbookService) LoadTables(ctx context.Context, req *dto.LoadTablesRequest) (*dto.TablesResponse, error) {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return nil, err
	}
	if err := s.loadTables(ctx, sess, req.Token, req.IncludeSheets); err != nil {
		return nil, err
	}

	view := sess.Snapshot(false)
	return &dto.TablesResponse{
		TableStructure: view.TableStructure,
		TotalCounts:    view.TotalCounts,
	}, nil
}

func (s *workbookService) loadTables(ctx context.Context, sess *store.Session, token string, includeSheets bool) error {
	seq := sess.BeginLoad(store.FetchTables)

	nodes, err := s.client.GetTables(ctx, token, sess.WorkbookID, includeSheets)
	if err != nil {
		return s.failLoad(sess, store.FetchTables, seq, err)
	}

	if err := sess.CompleteTablesLoad(seq, nodes); err != nil {
		return superseded(err)
	}
	s.notify(sess.ID, EventTablesLoaded, nil)
	return nil
}

func (s *workbookService) failLoad(sess *store.Session, kind store.FetchKind, seq uint64, cause error) error {
	if err := sess.FailLoad(kind, seq, cause); err != nil {
		return superseded(err)
	}
	s.logger.Warn("WORKBOOK", "Load failed", map[string]interface{}{
		"session_id": sess.ID,
		"kind":       int(kind),
		"error":      cause.Error(),
	})
	s.notify(sess.ID, EventLoadFailed, map[string]interface{}{"error": cause.Error()})
	return backendError(cause)
}

func (s *workbookService) RecordEdit(ctx context.Context, req *dto.RecordEditRequest) (*dto.RecordEditResponse, error) {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return nil, err
	}

	row, recorded, err := sess.ApplyEdit(store.EditRequest{
		RowID:   req.RowId,
		ColNr:   req.ColNr,
		Text:    req.Text,
		Comment: req.Comment,
	})
	if err != nil {
		return nil, editError(err)
	}

	view := sess.Snapshot(false)
	if recorded {
		s.notify(sess.ID, EventChangesUpdated, map[string]interface{}{
			"changedRowCount":  view.ChangedRowCount,
			"changedCellCount": view.ChangedCellCount,
		})
	}
	return &dto.RecordEditResponse{
		Recorded:         recorded,
		Row:              row,
		ChangedRowCount:  view.ChangedRowCount,
		ChangedCellCount: view.ChangedCellCount,
	}, nil
}

func (s *workbookService) PendingChanges(ctx context.Context, ref dto.SessionRef) (*dto.PendingChangesResponse, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	view := sess.Snapshot(false)
	return &dto.PendingChangesResponse{
		Cells:               sess.Flatten(),
		ChangedRowCount:     view.ChangedRowCount,
		LastChangeTimestamp: view.LastChangeTimestamp,
	}, nil
}

func (s *workbookService) ExportChanges(ctx context.Context, ref dto.SessionRef) ([]byte, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	raw, err := export.ChangesToXLSX(sess.Flatten())
	if err != nil {
		return nil, serverutils.NewAppError(http.StatusInternalServerError, "Failed to build export", err)
	}
	return raw, nil
}

func (s *workbookService) DiscardChanges(ctx context.Context, ref dto.SessionRef) error {
	sess, err := s.session(ref)
	if err != nil {
		return err
	}
	sess.ClearChanges()
	s.notify(sess.ID, EventChangesUpdated, map[string]interface{}{"changedRowCount": 0, "changedCellCount": 0})
	return nil
}

func (s *workbookService) SelectCell(ctx context.Context, req *dto.SelectCellRequest) error {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return err
	}
	sess.SelectCell(store.SelectedCell{
		RowID:    req.RowId,
		ColumnID: req.ColumnId,
		Label:    req.Label,
		Table:    req.Table,
	})
	return nil
}

func (s *workbookService) ClearSelection(ctx context.Context, ref dto.SessionRef) error {
	sess, err := s.session(ref)
	if err != nil {
		return err
	}
	sess.ClearSelection()
	return nil
}

func (s *workbookService) SetDialog(ctx context.Context, req *dto.SetDialogRequest) (*dto.DialogResponse, error) {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return nil, err
	}
	sess.SetDialog(store.DialogState{IsOpen: req.IsOpen, DialogType: req.DialogType})

	view := sess.Snapshot(false)
	return &dto.DialogResponse{
		Dialog:                    view.Dialog,
		ShouldCloseOnOutsideClick: sess.ShouldCloseOnOutsideClick(),
	}, nil
}

// Save submits the pending changes as one batch. Concurrent saves of the same
// session share a single submission.
func (s *workbookService) Save(ctx context.Context, req *dto.SaveRequest) (*dto.SaveResponse, error) {
	sess, err := s.session(req.SessionRef)
	if err != nil {
		return nil, err
	}

	res, err, shared := s.saves.Do(sess.ID, func() (interface{}, error) {
		return s.save(ctx, sess, req)
	})
	if shared {
		s.logger.Debug("WORKBOOK", "Joined in-flight save", map[string]interface{}{"session_id": sess.ID})
	}
	if err != nil {
		return nil, err
	}
	return res.(*dto.SaveResponse), nil
}

func (s *workbookService) save(ctx context.Context, sess *store.Session, req *dto.SaveRequest) (*dto.SaveResponse, error) {
	cells, err := sess.BeginSave()
	if err != nil {
		return nil, saveError(err)
	}

	err = s.client.SaveData(ctx, req.Token, client.SaveDataRequest{
		Cells:      cells,
		WorkbookID: sess.WorkbookID,
		Reason:     req.Reason,
	})
	sess.FinishSave(err)
	if err != nil {
		s.logger.Error("WORKBOOK", "Save failed", map[string]interface{}{
			"session_id":  sess.ID,
			"workbook_id": sess.WorkbookID,
			"cells":       len(cells),
			"error":       err.Error(),
		})
		s.notify(sess.ID, EventSaveFailed, map[string]interface{}{"error": err.Error()})
		return nil, backendError(err)
	}

	savedAt := time.Now()
	s.logger.Info("WORKBOOK", "Changes saved", map[string]interface{}{
		"session_id":  sess.ID,
		"workbook_id": sess.WorkbookID,
		"cells":       len(cells),
	})

	s.refreshAfterSave(ctx, sess, req.Token)
	s.publishSaved(ctx, sess, req.Reason, cells, savedAt)
	s.notify(sess.ID, EventSaved, map[string]interface{}{"cellCount": len(cells), "savedAt": savedAt})

	return &dto.SaveResponse{
		CellCount: len(cells),
		SavedAt:   savedAt,
		Session:   sess.Snapshot(true),
	}, nil
}

// refreshAfterSave reloads the active sheet and the table counts. Failures are
// recorded on the session; the save itself already succeeded.
func (s *workbookService) refreshAfterSave(ctx context.Context, sess *store.Session, token string) {
	if sel, ok := sess.SelectedSheet(); ok {
		if err := s.loadSheet(ctx, sess, token, sel.SheetID); err != nil {
			s.logger.Warn("WORKBOOK", "Sheet refresh after save failed", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
		}
	}
	if err := s.loadTables(ctx, sess, token, true); err != nil {
		s.logger.Warn("WORKBOOK", "Tables refresh after save failed", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}
}

func (s *workbookService) publishSaved(ctx context.Context, sess *store.Session, reason string, cells []changes.ChangedCell, savedAt time.Time) {
	if s.events != nil {
		event := events.WorkbookDataSaved{
			WorkbookID: sess.WorkbookID,
			SessionID:  sess.ID,
			UserID:     sess.UserID,
			Reason:     reason,
			CellCount:  len(cells),
			SavedAt:    savedAt,
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("WORKBOOK", "Failed to publish save event", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
		}
	}

	if s.audit != nil {
		payload, err := json.Marshal(dto.SaveAuditMessage{
			WorkbookId: sess.WorkbookID,
			SessionId:  sess.ID,
			UserId:     sess.UserID,
			Reason:     reason,
			Cells:      cells,
			SavedAt:    savedAt,
		})
		if err == nil {
			err = s.audit.Publish(ctx, payload)
		}
		if err != nil {
			s.logger.Warn("WORKBOOK", "Failed to queue save audit", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
		}
	}
}

func (s *workbookService) ListVersions(ctx context.Context, ref dto.SessionRef) ([]client.Version, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	versions, err := s.client.GetVersions(ctx, ref.Token, sess.WorkbookID)
	if err != nil {
		return nil, backendError(err)
	}
	return versions, nil
}

func (s *workbookService) GetVersionData(ctx context.Context, ref dto.SessionRef, versionID int) ([]client.VersionCell, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	cells, err := s.client.GetVersionData(ctx, ref.Token, sess.WorkbookID, versionID)
	if err != nil {
		return nil, backendError(err)
	}
	return cells, nil
}

func (s *workbookService) DeleteVersion(ctx context.Context, ref dto.SessionRef, versionID int) error {
	sess, err := s.session(ref)
	if err != nil {
		return err
	}
	if err := s.client.DeleteVersion(ctx, ref.Token, sess.WorkbookID, versionID); err != nil {
		return backendError(err)
	}
	s.logger.Info("WORKBOOK", "Version deleted", map[string]interface{}{"workbook_id": sess.WorkbookID, "version_id": versionID})
	return nil
}

// ListSaveHistory returns the audit trail of the session's workbook, newest
// first. Without a database the history is empty.
func (s *workbookService) ListSaveHistory(ctx context.Context, ref dto.SessionRef, limit, offset int) (*dto.SaveHistoryResponse, error) {
	sess, err := s.session(ref)
	if err != nil {
		return nil, err
	}
	res := &dto.SaveHistoryResponse{Items: []dto.SaveHistoryItem{}}
	if s.uowFactory == nil {
		return res, nil
	}

	repo := s.uowFactory.NewUnitOfWork(ctx).SaveAuditRepository()
	byWorkbook := specification.ByWorkbookID{WorkbookID: sess.WorkbookID}

	total, err := repo.Count(ctx, byWorkbook)
	if err != nil {
		return nil, err
	}
	audits, err := repo.FindAll(ctx,
		byWorkbook,
		specification.OrderBy{Field: "saved_at", Desc: true},
		specification.Pagination{Limit: limit, Offset: offset},
	)
	if err != nil {
		return nil, err
	}

	res.Total = total
	for _, a := range audits {
		res.Items = append(res.Items, dto.SaveHistoryItem{
			Id:        a.Id.String(),
			SessionId: a.SessionId,
			UserId:    a.UserId,
			Reason:    a.Reason,
			CellCount: len(a.Cells),
			Cells:     a.Cells,
			SavedAt:   a.SavedAt,
		})
	}
	return res, nil
}

// session resolves a session owned by the caller. Foreign sessions look missing.
func (s *workbookService) session(ref dto.SessionRef) (*store.Session, error) {
	sess, ok := s.sessions.Get(ref.SessionId)
	if !ok || sess.UserID != ref.UserId {
		return nil, serverutils.NotFound("Session not found")
	}
	return sess, nil
}

func (s *workbookService) notify(sessionID, eventType string, data interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(websocket.SessionEvent{Type: eventType, SessionID: sessionID, Data: data})
}

func superseded(err error) error {
	return serverutils.NewAppError(http.StatusConflict, "Request superseded by a newer load", err)
}

func editError(err error) error {
	switch {
	case errors.Is(err, store.ErrRowNotFound), errors.Is(err, store.ErrCellNotFound):
		return serverutils.NewAppError(http.StatusNotFound, "Cell not found", err)
	case errors.Is(err, store.ErrCellNotEditable):
		return serverutils.NewAppError(http.StatusUnprocessableEntity, "Cell is not editable", err)
	case errors.Is(err, store.ErrNoData), errors.Is(err, store.ErrSaveInFlight):
		return serverutils.NewAppError(http.StatusConflict, "Sheet cannot be edited right now", err)
	}
	return err
}

func saveError(err error) error {
	switch {
	case errors.Is(err, store.ErrNothingToSave):
		return serverutils.NewAppError(http.StatusUnprocessableEntity, "No pending changes", err)
	case errors.Is(err, store.ErrSaveInFlight):
		return serverutils.NewAppError(http.StatusConflict, "Save already in progress", err)
	}
	return err
}

// backendError maps RI client failures to HTTP statuses.
func backendError(err error) error {
	var be *client.BackendError
	switch {
	case errors.As(err, &be):
		switch be.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return serverutils.NewAppError(be.Status, "RI backend rejected the request", err)
		}
		return serverutils.NewAppError(http.StatusBadGateway, "RI backend error", err)
	case errors.Is(err, client.ErrNoData):
		return serverutils.NewAppError(http.StatusBadGateway, "No data received", err)
	case errors.Is(err, context.DeadlineExceeded):
		return serverutils.NewAppError(http.StatusGatewayTimeout, "RI backend timed out", err)
	}
	return serverutils.NewAppError(http.StatusBadGateway, "RI backend unreachable", err)
}
