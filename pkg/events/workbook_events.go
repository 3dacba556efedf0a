package events

import (
	"fmt"
	"time"
)

const (
	TypeWorkbookDataSaved = "workbook.data_saved"
)

// WorkbookDataSaved is published after a change batch was accepted by the RI backend.
type WorkbookDataSaved struct {
	WorkbookID int
	SessionID  string
	UserID     string
	Reason     string
	CellCount  int
	SavedAt    time.Time
}

func (e WorkbookDataSaved) EventType() string {
	return TypeWorkbookDataSaved
}

func (e WorkbookDataSaved) Payload() map[string]interface{} {
	return map[string]interface{}{
		"workbook_id": e.WorkbookID,
		"session_id":  e.SessionID,
		"user_id":     e.UserID,
		"reason":      e.Reason,
		"cell_count":  e.CellCount,
		"saved_at":    e.SavedAt.Format(time.RFC3339Nano),
	}
}

func (e WorkbookDataSaved) Timestamp() time.Time {
	return e.SavedAt
}

// DecodeWorkbookDataSaved rebuilds the event from a generic payload as delivered
// by the subscriber (JSON numbers arrive as float64).
func DecodeWorkbookDataSaved(payload map[string]interface{}) (WorkbookDataSaved, error) {
	var e WorkbookDataSaved

	wb, ok := payload["workbook_id"].(float64)
	if !ok {
		if i, isInt := payload["workbook_id"].(int); isInt {
			wb, ok = float64(i), true
		}
	}
	if !ok {
		return e, fmt.Errorf("workbook_id missing from %s payload", TypeWorkbookDataSaved)
	}
	e.WorkbookID = int(wb)
	e.SessionID, _ = payload["session_id"].(string)
	e.UserID, _ = payload["user_id"].(string)
	e.Reason, _ = payload["reason"].(string)

	switch n := payload["cell_count"].(type) {
	case float64:
		e.CellCount = int(n)
	case int:
		e.CellCount = n
	}
	if s, ok := payload["saved_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.SavedAt = t
		}
	}
	return e, nil
}
