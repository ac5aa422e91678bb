package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hospital-admin-api/internal/dto"
	"github.com/noah-isme/hospital-admin-api/internal/middleware"
	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/service"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

type approvalServiceMock struct {
	workflow   models.WorkflowType
	createReq  dto.CreateApprovalRequest
	decideReq  dto.DecideLineRequest
	lastQuery  dto.ApprovalQuery
	lastID     string
	lastLineID string
	lastFormat string
	actor      *models.JWTClaims
	err        error
	file       *service.ExportFile
}

func (m *approvalServiceMock) Create(ctx context.Context, wt models.WorkflowType, req dto.CreateApprovalRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	m.workflow, m.createReq, m.actor = wt, req, actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.ApprovalRequest{ID: "req-1", WorkflowType: wt, AggregateStatus: models.ApprovalStatusPending}, nil
}

func (m *approvalServiceMock) List(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, actor *models.JWTClaims) ([]models.ApprovalRequest, *models.Pagination, error) {
	m.workflow, m.lastQuery, m.actor = wt, query, actor
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.ApprovalRequest{{ID: "req-1"}}, &models.Pagination{Limit: 50, Count: 1}, nil
}

func (m *approvalServiceMock) Get(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	m.workflow, m.lastID = wt, id
	if m.err != nil {
		return nil, m.err
	}
	return &models.ApprovalRequest{ID: id, WorkflowType: wt}, nil
}

func (m *approvalServiceMock) Decide(ctx context.Context, wt models.WorkflowType, id, lineID string, req dto.DecideLineRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	m.workflow, m.lastID, m.lastLineID, m.decideReq, m.actor = wt, id, lineID, req, actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.ApprovalRequest{ID: id, AggregateStatus: models.ApprovalStatusApproved}, nil
}

func (m *approvalServiceMock) Withdraw(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	m.workflow, m.lastID = wt, id
	if m.err != nil {
		return nil, m.err
	}
	return &models.ApprovalRequest{ID: id, Withdrawn: true}, nil
}

func (m *approvalServiceMock) History(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) ([]models.ApprovalEvent, error) {
	m.lastID = id
	return []models.ApprovalEvent{{RequestID: id, EventType: models.EventRequestCreated}}, m.err
}

func (m *approvalServiceMock) Sheet(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*service.ExportFile, error) {
	m.lastID = id
	return m.file, m.err
}

func (m *approvalServiceMock) Export(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, format string, actor *models.JWTClaims) (*service.ExportFile, error) {
	m.lastQuery, m.lastFormat = query, format
	return m.file, m.err
}

func newApprovalContext(method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "nurse-1", Role: models.RoleNurse})
	return c, w
}

func TestApprovalHandlerCreate(t *testing.T) {
	svc := &approvalServiceMock{}
	h := NewApprovalHandler(models.WorkflowLeave, svc)

	c, w := newApprovalContext(http.MethodPost, "/leaves", `{"approverIds":["head-1","dir-1"],"ccIds":["hr-1"],"payload":{"kind":"SICK"}}`)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.WorkflowLeave, svc.workflow)
	assert.Equal(t, []string{"head-1", "dir-1"}, svc.createReq.ApproverIDs)
	assert.JSONEq(t, `{"kind":"SICK"}`, string(svc.createReq.Payload))
	assert.Equal(t, "nurse-1", svc.actor.UserID)
}

func TestApprovalHandlerCreateInvalidBody(t *testing.T) {
	h := NewApprovalHandler(models.WorkflowLeave, &approvalServiceMock{})

	c, w := newApprovalContext(http.MethodPost, "/leaves", `{"approverIds":`)
	h.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrValidation.Code, body["error"]["code"])
}

func TestApprovalHandlerListParsesQuery(t *testing.T) {
	svc := &approvalServiceMock{}
	h := NewApprovalHandler(models.WorkflowDocument, svc)

	c, w := newApprovalContext(http.MethodGet, "/documents?status=pending,APPROVED&requester=me&inbox=true&withdrawn=false&limit=10&offset=20", "")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.WorkflowDocument, svc.workflow)
	assert.Equal(t, []models.ApprovalStatus{models.ApprovalStatusPending, models.ApprovalStatusApproved}, svc.lastQuery.Status)
	assert.True(t, svc.lastQuery.Mine)
	assert.True(t, svc.lastQuery.Inbox)
	require.NotNil(t, svc.lastQuery.Withdrawn)
	assert.False(t, *svc.lastQuery.Withdrawn)
	assert.Equal(t, 10, svc.lastQuery.Limit)
	assert.Equal(t, 20, svc.lastQuery.Offset)
	assert.Contains(t, w.Body.String(), `"pagination"`)
}

func TestApprovalHandlerListRejectsBadQuery(t *testing.T) {
	for _, target := range []string{"/leaves?status=DONE", "/leaves?inbox=maybe", "/leaves?limit=-1"} {
		c, w := newApprovalContext(http.MethodGet, target, "")
		NewApprovalHandler(models.WorkflowLeave, &approvalServiceMock{}).List(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestApprovalHandlerDecide(t *testing.T) {
	svc := &approvalServiceMock{}
	h := NewApprovalHandler(models.WorkflowStaffChange, svc)

	c, w := newApprovalContext(http.MethodPost, "/staff-changes/req-1/lines/l2/decision", `{"action":"REJECT","comment":"missing signature"}`)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}, {Key: "lineId", Value: "l2"}}
	h.Decide(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", svc.lastID)
	assert.Equal(t, "l2", svc.lastLineID)
	assert.Equal(t, models.ActionReject, svc.decideReq.Action)
	assert.Equal(t, "missing signature", svc.decideReq.Comment)
}

func TestApprovalHandlerDecideErrorStatuses(t *testing.T) {
	cases := []struct {
		err    *appErrors.Error
		status int
	}{
		{appErrors.ErrValidation, http.StatusBadRequest},
		{appErrors.ErrNotFound, http.StatusNotFound},
		{appErrors.ErrPermission, http.StatusForbidden},
		{appErrors.ErrInvalidState, http.StatusUnprocessableEntity},
		{appErrors.ErrConflict, http.StatusConflict},
	}
	for _, tc := range cases {
		svc := &approvalServiceMock{err: appErrors.Clone(tc.err, "")}
		c, w := newApprovalContext(http.MethodPost, "/leaves/req-1/lines/l1/decision", `{"action":"APPROVE"}`)
		c.Params = gin.Params{{Key: "id", Value: "req-1"}, {Key: "lineId", Value: "l1"}}
		NewApprovalHandler(models.WorkflowLeave, svc).Decide(c)
		assert.Equal(t, tc.status, w.Code, tc.err.Code)
		assert.Contains(t, w.Body.String(), tc.err.Code)
	}
}

func TestApprovalHandlerWithdrawAndHistory(t *testing.T) {
	svc := &approvalServiceMock{}
	h := NewApprovalHandler(models.WorkflowLeave, svc)

	c, w := newApprovalContext(http.MethodPost, "/leaves/req-1/withdraw", "")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Withdraw(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"withdrawn":true`)

	c, w = newApprovalContext(http.MethodGet, "/leaves/req-1/history", "")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.EventRequestCreated))
}

func TestApprovalHandlerSheet(t *testing.T) {
	svc := &approvalServiceMock{file: &service.ExportFile{Filename: "approval-req-1.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.3")}}
	h := NewApprovalHandler(models.WorkflowLeave, svc)

	c, w := newApprovalContext(http.MethodGet, "/leaves/req-1/sheet", "")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Sheet(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "approval-req-1.pdf")
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestApprovalHandlerExport(t *testing.T) {
	svc := &approvalServiceMock{file: &service.ExportFile{Filename: "leave-requests.csv", ContentType: "text/csv", Content: []byte("ID\n")}}
	h := NewApprovalHandler(models.WorkflowLeave, svc)

	c, w := newApprovalContext(http.MethodGet, "/leaves/export?format=csv&inbox=true", "")
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.lastFormat)
	assert.True(t, svc.lastQuery.Inbox)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}
