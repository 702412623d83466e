package api

import (
	"context"
	"html"
	"net/http"
	"sync"
	"time"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const auditTrailAction = "view_audit_trail"

type queryRequest struct {
	Query  string      `json:"query" binding:"required,max=4000"`
	Tenant string      `json:"tenant" binding:"omitempty,scope_id"`
	Role   models.Role `json:"role" binding:"omitempty,role"`
}

type requestContext struct {
	Tenant string      `json:"tenant" binding:"omitempty,scope_id"`
	Role   models.Role `json:"role" binding:"omitempty,role"`
}

type executeRequest struct {
	Action  string                 `json:"action" binding:"required,max=64"`
	Context requestContext         `json:"context"`
	Payload map[string]interface{} `json:"payload"`
}

type confirmRequest struct {
	Token   string         `json:"confirmation_token" binding:"required,uuid"`
	Context requestContext `json:"context"`
}

var registerValidators sync.Once

// bindingValidators adds the tags used on request bodies to gin's
// validator.
func bindingValidators() {
	registerValidators.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("scope_id", func(fl validator.FieldLevel) bool {
			return models.ValidIdentifier(fl.Field().String())
		})
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return models.Role(fl.Field().String()).Valid()
		})
	})
}

func (s *Server) scope(c *gin.Context, tenant string, role models.Role) (models.TenantScope, bool) {
	scope, err := security.BindScope(claimsFrom(c), tenant, role)
	if err != nil {
		s.abort(c, err)
		return scope, false
	}
	return scope, true
}

func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.abort(c, errors.NewBadRequestError(err.Error()))
		return false
	}
	return true
}

// POST /v1/search
func (s *Server) handleSearch(c *gin.Context) {
	var req queryRequest
	if !s.bind(c, &req) {
		return
	}
	scope, ok := s.scope(c, req.Tenant, req.Role)
	if !ok {
		return
	}

	out, err := s.engine.Search(c.Request.Context(), scope, req.Query)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeBody(req.Query, out))
}

// POST /v1/query
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if !s.bind(c, &req) {
		return
	}
	scope, ok := s.scope(c, req.Tenant, req.Role)
	if !ok {
		return
	}

	out, err := s.engine.Query(c.Request.Context(), scope, req.Query)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeBody(req.Query, out))
}

// POST /v1/actions/execute
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if !s.bind(c, &req) {
		return
	}
	scope, ok := s.scope(c, req.Context.Tenant, req.Context.Role)
	if !ok {
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]interface{}{}
	}

	res, err := s.actions.Execute(c.Request.Context(), req.Action, scope, req.Payload)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, actionBody(res))
}

// POST /v1/actions/confirm
func (s *Server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if !s.bind(c, &req) {
		return
	}
	scope, ok := s.scope(c, req.Context.Tenant, req.Context.Role)
	if !ok {
		return
	}

	// A started commit runs to completion if the client disconnects.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := s.actions.Confirm(ctx, req.Token, scope)
	if err != nil {
		s.abort(c, err)
		return
	}

	body := gin.H{
		"status":          "committed",
		"mutation_id":     result.MutationID,
		"entity_id":       result.EntityID,
		"ledger_event_id": result.LedgerEventID,
		"committed_at":    result.CommittedAt,
	}
	if result.AuditRecordID != "" {
		body["audit_record_id"] = result.AuditRecordID
	}
	c.JSON(http.StatusOK, body)
}

// DELETE /v1/actions/pending/:token
func (s *Server) handleCancel(c *gin.Context) {
	scope, ok := s.scope(c, c.Query("tenant"), models.Role(c.Query("role")))
	if !ok {
		return
	}
	token := c.Param("token")
	if err := s.actions.Cancel(c.Request.Context(), token, scope); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "confirmation_token": token})
}

// GET /v1/audit/entities/:entity_id
func (s *Server) handleAuditTrail(c *gin.Context) {
	scope, ok := s.scope(c, c.Query("tenant"), models.Role(c.Query("role")))
	if !ok {
		return
	}

	res, err := s.actions.Execute(c.Request.Context(), auditTrailAction, scope, map[string]interface{}{
		"entity_id": c.Param("entity_id"),
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "trail": res.Data, "record_count": res.RowCount})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.ready))
	status := http.StatusOK
	for name, p := range s.ready {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			s.logger.Warn("Readiness check failed", map[string]interface{}{
				"dependency": name,
				"error":      err.Error(),
			})
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// outcomeBody renders a pipeline outcome. The query is echoed escaped.
func outcomeBody(query string, out *engine.Outcome) gin.H {
	body := gin.H{
		"query":    html.EscapeString(query),
		"analysis": out.Analysis,
	}
	switch {
	case out.Action != nil:
		for k, v := range actionBody(out.Action) {
			body[k] = v
		}
	case out.Fallback != nil:
		body["status"] = out.Fallback.Status
		body["fallback"] = out.Fallback
	case out.NoResult != "":
		body["status"] = "no_result"
		body["reason"] = out.NoResult
	default:
		body["status"] = "ok"
		body["results"] = out.Results
		body["total"] = out.Results.Total()
	}
	return body
}

func actionBody(res *actions.ExecuteResult) gin.H {
	if res.Pending != nil {
		return gin.H{
			"status":             "pending_confirmation",
			"action":             res.ActionID,
			"confirmation_token": res.Pending.Token,
			"mutation_id":        res.Pending.MutationID,
			"state":              res.Pending.State,
			"high_risk":          res.Pending.HighRisk,
			"expires_at":         res.Pending.ExpiresAt,
		}
	}
	return gin.H{
		"status":            "ok",
		"action":            res.ActionID,
		"data":              res.Data,
		"row_count":         res.RowCount,
		"execution_time_ms": res.ExecutionTime,
	}
}
