package commit

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/models"
)

// ==========================
// Operational writes
// ==========================

// Effect is what an operational write changed. EntityType and EntityID
// name the row the ledger and audit records point at.
type Effect struct {
	EntityType string
	EntityID   string
	Before     map[string]interface{}
	After      map[string]interface{}
}

// Writer performs the operational step of one action inside tx.
type Writer func(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error)

type operation struct {
	table string
	write Writer
}

var operations = map[string]operation{
	"create_work_order":      {table: "work_orders", write: createWorkOrder},
	"close_work_order":       {table: "work_orders", write: closeWorkOrder},
	"sign_off_work_order":    {table: "work_orders", write: signOffWorkOrder},
	"report_fault":           {table: "faults", write: reportFault},
	"log_running_hours":      {table: "equipment", write: logRunningHours},
	"order_part":             {table: "part_orders", write: orderPart},
	"adjust_stock":           {table: "parts", write: adjustStock},
	"add_to_handover":        {table: "handover_notes", write: addToHandover},
	"decommission_equipment": {table: "equipment", write: decommissionEquipment},
}

// Supports reports whether an operational writer exists for actionID.
func Supports(actionID string) bool {
	_, ok := operations[actionID]
	return ok
}

var ErrVersionMismatch = stderrors.New("VERSION_MISMATCH")

const (
	statusOpen           = "open"
	statusClosed         = "closed"
	statusSignedOff      = "signed_off"
	statusDecommissioned = "decommissioned"
)

const (
	selectEquipmentForShare = `SELECT status FROM equipment WHERE id = $1 AND tenant_id = $2 FOR SHARE`
	selectPartForShare      = `SELECT stock_qty FROM parts WHERE id = $1 AND tenant_id = $2 FOR SHARE`

	lockWorkOrder = `SELECT version, status FROM work_orders WHERE id = $1 AND tenant_id = $2 FOR UPDATE NOWAIT`
	lockEquipment = `SELECT version, status, running_hours FROM equipment WHERE id = $1 AND tenant_id = $2 FOR UPDATE NOWAIT`
	lockPart      = `SELECT version, stock_qty FROM parts WHERE id = $1 AND tenant_id = $2 FOR UPDATE NOWAIT`

	insertWorkOrder = `INSERT INTO work_orders (id, tenant_id, equipment_id, title, description, priority, status, created_by, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', $7, 1, $8)`
	updateWorkOrderClosed = `UPDATE work_orders SET status = 'closed', resolution = $1, closed_by = $2, closed_at = $3, version = version + 1
		WHERE id = $4 AND tenant_id = $5`
	updateWorkOrderSignedOff = `UPDATE work_orders SET status = 'signed_off', sign_off_remarks = $1, signed_off_by = $2, signed_off_at = $3, version = version + 1
		WHERE id = $4 AND tenant_id = $5`
	insertFault = `INSERT INTO faults (id, tenant_id, equipment_id, fault_code, description, severity, status, reported_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', $7, $8)`
	updateRunningHours = `UPDATE equipment SET running_hours = $1, hours_logged_at = $2, version = version + 1
		WHERE id = $3 AND tenant_id = $4`
	updateDecommissioned = `UPDATE equipment SET status = 'decommissioned', decommission_reason = $1, decommissioned_at = $2, version = version + 1
		WHERE id = $3 AND tenant_id = $4`
	insertPartOrder = `INSERT INTO part_orders (id, tenant_id, part_id, quantity, notes, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, 'requested', $6, $7)`
	updateStock = `UPDATE parts SET stock_qty = $1, version = version + 1
		WHERE id = $2 AND tenant_id = $3`
	insertHandoverNote = `INSERT INTO handover_notes (id, tenant_id, equipment_id, note, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

func createWorkOrder(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	p := req.Payload
	equipmentID := stringField(p, "equipment_id")
	if err := requireEquipment(ctx, tx, req.Scope.TenantID, equipmentID); err != nil {
		return nil, err
	}

	priority := withDefault(stringField(p, "priority"), "normal")
	if _, err := tx.ExecContext(ctx, insertWorkOrder,
		req.ID, req.Scope.TenantID, equipmentID, stringField(p, "title"),
		nullable(stringField(p, "description")), priority, req.Scope.ActorID, now,
	); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "work_order",
		EntityID:   req.ID,
		After: map[string]interface{}{
			"equipment_id": equipmentID,
			"title":        stringField(p, "title"),
			"priority":     priority,
			"status":       statusOpen,
		},
	}, nil
}

func closeWorkOrder(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	var status string
	if err := lockTarget(ctx, tx, req, lockWorkOrder, &status); err != nil {
		return nil, err
	}
	if status == statusClosed || status == statusSignedOff {
		return nil, errors.NewBusinessRuleError("Work order is already closed",
			fmt.Sprintf("work order: %s, status: %s", req.TargetID, status))
	}

	resolution := stringField(req.Payload, "resolution")
	if err := execOne(ctx, tx, updateWorkOrderClosed,
		resolution, req.Scope.ActorID, now, req.TargetID, req.Scope.TenantID,
	); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "work_order",
		EntityID:   req.TargetID,
		Before:     map[string]interface{}{"status": status},
		After:      map[string]interface{}{"status": statusClosed, "resolution": resolution},
	}, nil
}

func signOffWorkOrder(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	var status string
	if err := lockTarget(ctx, tx, req, lockWorkOrder, &status); err != nil {
		return nil, err
	}
	switch status {
	case statusClosed:
	case statusSignedOff:
		return nil, errors.NewBusinessRuleError("Work order is already signed off",
			fmt.Sprintf("work order: %s", req.TargetID))
	default:
		return nil, errors.NewBusinessRuleError("Work order must be closed before sign-off",
			fmt.Sprintf("work order: %s, status: %s", req.TargetID, status))
	}

	remarks := stringField(req.Payload, "remarks")
	if err := execOne(ctx, tx, updateWorkOrderSignedOff,
		nullable(remarks), req.Scope.ActorID, now, req.TargetID, req.Scope.TenantID,
	); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "work_order",
		EntityID:   req.TargetID,
		Before:     map[string]interface{}{"status": status},
		After:      map[string]interface{}{"status": statusSignedOff, "signed_off_by": req.Scope.ActorID},
	}, nil
}

func reportFault(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	p := req.Payload
	equipmentID := stringField(p, "equipment_id")
	if err := requireEquipment(ctx, tx, req.Scope.TenantID, equipmentID); err != nil {
		return nil, err
	}

	severity := withDefault(stringField(p, "severity"), "minor")
	if _, err := tx.ExecContext(ctx, insertFault,
		req.ID, req.Scope.TenantID, equipmentID, nullable(stringField(p, "fault_code")),
		stringField(p, "description"), severity, req.Scope.ActorID, now,
	); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "fault",
		EntityID:   req.ID,
		After: map[string]interface{}{
			"equipment_id": equipmentID,
			"fault_code":   stringField(p, "fault_code"),
			"severity":     severity,
			"status":       statusOpen,
		},
	}, nil
}

func logRunningHours(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	hours, ok := numberField(req.Payload, "hours")
	if !ok {
		return nil, errors.NewInvalidPayloadError(req.ActionID, []string{"hours: must be a number"})
	}

	var status string
	var current float64
	if err := lockTarget(ctx, tx, req, lockEquipment, &status, &current); err != nil {
		return nil, err
	}
	if status == statusDecommissioned {
		return nil, errors.NewBusinessRuleError("Equipment is decommissioned",
			fmt.Sprintf("equipment: %s", req.TargetID))
	}
	if hours < current {
		return nil, errors.NewBusinessRuleError("Running hours cannot decrease",
			fmt.Sprintf("equipment: %s, current: %g, reported: %g", req.TargetID, current, hours))
	}

	if err := execOne(ctx, tx, updateRunningHours, hours, now, req.TargetID, req.Scope.TenantID); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "equipment",
		EntityID:   req.TargetID,
		Before:     map[string]interface{}{"running_hours": current},
		After:      map[string]interface{}{"running_hours": hours},
	}, nil
}

func orderPart(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	p := req.Payload
	partID := stringField(p, "part_id")
	quantity, ok := integerField(p, "quantity")
	if !ok {
		return nil, errors.NewInvalidPayloadError(req.ActionID, []string{"quantity: must be an integer"})
	}

	var stock int64
	err := tx.QueryRowContext(ctx, selectPartForShare, partID, req.Scope.TenantID).Scan(&stock)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewBusinessRuleError("Part not found", fmt.Sprintf("part: %s", partID))
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, insertPartOrder,
		req.ID, req.Scope.TenantID, partID, quantity, nullable(stringField(p, "notes")), req.Scope.ActorID, now,
	); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "part_order",
		EntityID:   req.ID,
		Before:     map[string]interface{}{"stock_on_hand": stock},
		After: map[string]interface{}{
			"part_id":       partID,
			"quantity":      quantity,
			"status":        "requested",
			"stock_on_hand": stock,
		},
	}, nil
}

func adjustStock(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	delta, ok := integerField(req.Payload, "delta")
	if !ok {
		return nil, errors.NewInvalidPayloadError(req.ActionID, []string{"delta: must be an integer"})
	}

	var stock int64
	if err := lockTarget(ctx, tx, req, lockPart, &stock); err != nil {
		return nil, err
	}
	next := stock + delta
	if next < 0 {
		return nil, errors.NewBusinessRuleError("Insufficient stock",
			fmt.Sprintf("part: %s, on hand: %d, adjustment: %d", req.TargetID, stock, delta))
	}

	if err := execOne(ctx, tx, updateStock, next, req.TargetID, req.Scope.TenantID); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "part",
		EntityID:   req.TargetID,
		Before:     map[string]interface{}{"stock_qty": stock},
		After: map[string]interface{}{
			"stock_qty": next,
			"reason":    stringField(req.Payload, "reason"),
		},
	}, nil
}

func addToHandover(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	p := req.Payload
	equipmentID := stringField(p, "equipment_id")
	if equipmentID != "" {
		if err := requireEquipment(ctx, tx, req.Scope.TenantID, equipmentID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, insertHandoverNote,
		req.ID, req.Scope.TenantID, nullable(equipmentID), stringField(p, "note"), req.Scope.ActorID, now,
	); err != nil {
		return nil, err
	}

	after := map[string]interface{}{"note": stringField(p, "note")}
	if equipmentID != "" {
		after["equipment_id"] = equipmentID
	}
	return &Effect{EntityType: "handover_note", EntityID: req.ID, After: after}, nil
}

func decommissionEquipment(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, now time.Time) (*Effect, error) {
	var status string
	var hours float64
	if err := lockTarget(ctx, tx, req, lockEquipment, &status, &hours); err != nil {
		return nil, err
	}
	if status == statusDecommissioned {
		return nil, errors.NewBusinessRuleError("Equipment is already decommissioned",
			fmt.Sprintf("equipment: %s", req.TargetID))
	}

	reason := stringField(req.Payload, "reason")
	if err := execOne(ctx, tx, updateDecommissioned, reason, now, req.TargetID, req.Scope.TenantID); err != nil {
		return nil, err
	}

	return &Effect{
		EntityType: "equipment",
		EntityID:   req.TargetID,
		Before:     map[string]interface{}{"status": status},
		After:      map[string]interface{}{"status": statusDecommissioned, "reason": reason},
	}, nil
}

// ==========================
// Helpers
// ==========================

// lockTarget takes the row lock of an update action and compares the row
// version with the one captured when the request was staged. query must
// select version first, followed by the columns scanned into dest.
func lockTarget(ctx context.Context, tx *sql.Tx, req *models.MutationRequest, query string, dest ...interface{}) error {
	var version int64
	err := tx.QueryRowContext(ctx, query, req.TargetID, req.Scope.TenantID).
		Scan(append([]interface{}{&version}, dest...)...)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewBusinessRuleError("Target record not found",
			fmt.Sprintf("record: %s", req.TargetID))
	}
	if err != nil {
		return err
	}
	if version != req.TargetVersion {
		return fmt.Errorf("%w: record %s is at version %d, request staged at %d",
			ErrVersionMismatch, req.TargetID, version, req.TargetVersion)
	}
	return nil
}

func requireEquipment(ctx context.Context, tx *sql.Tx, tenantID, equipmentID string) error {
	var status string
	err := tx.QueryRowContext(ctx, selectEquipmentForShare, equipmentID, tenantID).Scan(&status)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewBusinessRuleError("Equipment not found", fmt.Sprintf("equipment: %s", equipmentID))
	}
	if err != nil {
		return err
	}
	if status == statusDecommissioned {
		return errors.NewBusinessRuleError("Equipment is decommissioned", fmt.Sprintf("equipment: %s", equipmentID))
	}
	return nil
}

// execOne runs an UPDATE that must touch exactly one row. The row is
// already locked, so zero rows means it vanished under us.
func execOne(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: expected 1 row, updated %d", ErrVersionMismatch, n)
	}
	return nil
}
