package payrollhandler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"payledger/internal/domain/auth"
	"payledger/internal/domain/payroll"
	"payledger/internal/platform/authz"
	"payledger/internal/storage/gormstore"
	payrollhandler "payledger/internal/transport/http/handlers/payroll"
	"payledger/internal/transport/http/middleware"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type client struct {
	t   *testing.T
	url string
}

func newClient(t *testing.T) *client {
	t.Helper()
	store, err := gormstore.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	authorizer, err := authz.New("", "", authz.ModeEnforce, nil)
	if err != nil {
		t.Fatalf("authz: %v", err)
	}
	ledger := payroll.NewLedger(store, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Auth(testSecret, nil))
	r.Route("/api/v1", func(r chi.Router) {
		payrollhandler.NewHandler(ledger, authorizer, nil).RegisterRoutes(r)
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &client{t: t, url: ts.URL + "/api/v1"}
}

func token(t *testing.T, role string) string {
	t.Helper()
	signed, err := auth.GenerateToken(testSecret, auth.Claims{UserID: "user-" + role, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return signed
}

func (c *client) raw(method, path, bearer string, body any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *client) do(method, path, bearer string, body any) (int, envelope) {
	c.t.Helper()
	resp := c.raw(method, path, bearer, body)
	defer resp.Body.Close()
	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			c.t.Fatalf("%s %s: decode envelope: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func (c *client) expect(status int, method, path, bearer string, body any, out any) envelope {
	c.t.Helper()
	got, env := c.do(method, path, bearer, body)
	if got != status {
		c.t.Fatalf("%s %s: expected %d, got %d (%+v)", method, path, status, got, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return env
}

func mustEqual(t *testing.T, field string, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", field, want, got)
	}
}

func createPayroll(c *client, bearer string) payroll.Record {
	var record payroll.Record
	c.expect(http.StatusCreated, http.MethodPost, "/payrolls", bearer, map[string]any{
		"employeeId":  "emp-1",
		"periodStart": "2024-03-01",
		"periodEnd":   "2024-03-31",
		"baseSalary":  "5000.00",
		"tax":         500,
	}, &record)
	return record
}

func TestPayrollLifecycle(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)

	record := createPayroll(c, hr)
	if record.Status != payroll.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", record.Status)
	}
	mustEqual(t, "net", "4500", record.NetSalary)

	var bonus payroll.Adjustment
	c.expect(http.StatusCreated, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID,
		"type":      "bonus",
		"amount":    "200",
		"approved":  true,
	}, &bonus)
	if bonus.ApprovedBy != "user-hr" || bonus.ApprovedAt == nil {
		t.Fatalf("expected approval stamped by caller, got %+v", bonus)
	}

	var deduction payroll.Adjustment
	c.expect(http.StatusCreated, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID,
		"type":      "DEDUCTION",
		"amount":    "50.25",
	}, &deduction)

	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &record)
	mustEqual(t, "allowances", "200", record.Allowances)
	mustEqual(t, "net after unapproved deduction", "4700", record.NetSalary)

	c.expect(http.StatusOK, http.MethodPatch, "/adjustments/"+deduction.ID, hr, map[string]any{"approved": true}, &deduction)
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &record)
	mustEqual(t, "deductions", "50.25", record.Deductions)
	mustEqual(t, "net after approval", "4649.75", record.NetSalary)

	c.expect(http.StatusNoContent, http.MethodDelete, "/adjustments/"+bonus.ID, hr, nil, nil)
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &record)
	mustEqual(t, "allowances after delete", "0", record.Allowances)
	mustEqual(t, "net after delete", "4449.75", record.NetSalary)

	var approved []payroll.Adjustment
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID+"/adjustments?approved=true", hr, nil, &approved)
	if len(approved) != 1 || approved[0].ID != deduction.ID {
		t.Fatalf("unexpected approved adjustments: %+v", approved)
	}

	var recalculated payroll.Record
	c.expect(http.StatusOK, http.MethodPost, "/payrolls/"+record.ID+"/recalculate", hr, nil, &recalculated)
	mustEqual(t, "net after recalculate", "4449.75", recalculated.NetSalary)
}

func TestDirectUpdateRequiresOverride(t *testing.T) {
	c := newClient(t)
	record := createPayroll(c, token(t, auth.RoleHR))
	patch := map[string]any{"baseSalary": "6000", "status": "pending"}

	c.expect(http.StatusForbidden, http.MethodPatch, "/payrolls/"+record.ID, token(t, auth.RoleHR), patch, nil)

	var updated payroll.Record
	c.expect(http.StatusOK, http.MethodPatch, "/payrolls/"+record.ID, token(t, auth.RoleAdmin), patch, &updated)
	mustEqual(t, "net", "5500", updated.NetSalary)
	if updated.Status != payroll.StatusPending {
		t.Fatalf("expected PENDING, got %s", updated.Status)
	}
}

func TestPermissions(t *testing.T) {
	c := newClient(t)
	record := createPayroll(c, token(t, auth.RoleHR))

	c.expect(http.StatusUnauthorized, http.MethodGet, "/payrolls/"+record.ID, "", nil, nil)
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, token(t, auth.RoleEmployee), nil, nil)
	c.expect(http.StatusForbidden, http.MethodPost, "/adjustments", token(t, auth.RoleEmployee), map[string]any{
		"payrollId": record.ID, "type": "BONUS", "amount": "10",
	}, nil)
	c.expect(http.StatusForbidden, http.MethodPost, "/payrolls/"+record.ID+"/recalculate", token(t, auth.RoleManager), nil, nil)
	c.expect(http.StatusForbidden, http.MethodPost, "/adjustments", token(t, auth.RoleManager), map[string]any{
		"payrollId": record.ID, "type": "BONUS", "amount": "10", "approved": true,
	}, nil)
}

func TestManagerApprovesButCannotEdit(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)
	manager := token(t, auth.RoleManager)
	record := createPayroll(c, hr)

	var adj payroll.Adjustment
	c.expect(http.StatusCreated, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID, "type": "COMMISSION", "amount": "300",
	}, &adj)

	c.expect(http.StatusForbidden, http.MethodPatch, "/adjustments/"+adj.ID, manager, map[string]any{"amount": "900"}, nil)
	c.expect(http.StatusForbidden, http.MethodPatch, "/adjustments/"+adj.ID, manager, map[string]any{"amount": "900", "approved": true}, nil)
	c.expect(http.StatusForbidden, http.MethodPatch, "/adjustments/"+adj.ID, token(t, auth.RoleEmployee), map[string]any{"approved": true}, nil)
	c.expect(http.StatusUnauthorized, http.MethodPatch, "/adjustments/"+adj.ID, "", map[string]any{"approved": true}, nil)

	c.expect(http.StatusOK, http.MethodPatch, "/adjustments/"+adj.ID, manager, map[string]any{"approved": true}, &adj)
	if adj.ApprovedBy != "user-manager" {
		t.Fatalf("expected manager as approver, got %q", adj.ApprovedBy)
	}
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &record)
	mustEqual(t, "net after manager approval", "4800", record.NetSalary)
}

func TestValidationErrors(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)
	record := createPayroll(c, hr)

	env := c.expect(http.StatusBadRequest, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID, "type": "BONUS", "amount": "-5",
	}, nil)
	if env.Error == nil || env.Error.Code != "validation_error" || !strings.Contains(string(env.Error.Details), `"amount"`) {
		t.Fatalf("expected amount validation error, got %+v", env.Error)
	}

	env = c.expect(http.StatusBadRequest, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID, "type": "STIPEND", "amount": "5",
	}, nil)
	if !strings.Contains(string(env.Error.Details), `"type"`) {
		t.Fatalf("expected type validation error, got %s", env.Error.Details)
	}

	env = c.expect(http.StatusBadRequest, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": record.ID, "type": "BONUS",
	}, nil)
	if !strings.Contains(string(env.Error.Details), "is required") {
		t.Fatalf("expected missing amount error, got %s", env.Error.Details)
	}

	env = c.expect(http.StatusBadRequest, http.MethodPost, "/adjustments", hr, `{"payrollId":`, nil)
	if env.Error.Code != "invalid_json" {
		t.Fatalf("expected invalid_json, got %s", env.Error.Code)
	}

	env = c.expect(http.StatusBadRequest, http.MethodPost, "/payrolls", hr, map[string]any{
		"employeeId": "emp-1", "periodStart": "March", "periodEnd": "2024-03-31", "baseSalary": "1",
	}, nil)
	if !strings.Contains(string(env.Error.Details), "periodStart") {
		t.Fatalf("expected date error, got %s", env.Error.Details)
	}

	c.expect(http.StatusBadRequest, http.MethodGet, "/payrolls?status=ARCHIVED", hr, nil, nil)
	c.expect(http.StatusBadRequest, http.MethodGet, "/payrolls/"+record.ID+"/adjustments?approved=perhaps", hr, nil, nil)

	var unchanged payroll.Record
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &unchanged)
	mustEqual(t, "net untouched by rejected writes", "4500", unchanged.NetSalary)
}

func TestNotFound(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)

	c.expect(http.StatusNotFound, http.MethodGet, "/payrolls/missing", hr, nil, nil)
	c.expect(http.StatusNotFound, http.MethodGet, "/payrolls/missing/adjustments", hr, nil, nil)
	c.expect(http.StatusNotFound, http.MethodPost, "/payrolls/missing/recalculate", hr, nil, nil)
	c.expect(http.StatusNotFound, http.MethodPost, "/adjustments", hr, map[string]any{
		"payrollId": "missing", "type": "BONUS", "amount": "1",
	}, nil)
	env := c.expect(http.StatusNotFound, http.MethodPatch, "/adjustments/missing", hr, map[string]any{"amount": "1"}, nil)
	if env.Error.Message != "payroll adjustment not found" {
		t.Fatalf("unexpected message: %s", env.Error.Message)
	}
	c.expect(http.StatusNotFound, http.MethodDelete, "/adjustments/missing", hr, nil, nil)
}

func TestListPayrollsPaginates(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)
	for i := 0; i < 3; i++ {
		createPayroll(c, hr)
	}

	var page []payroll.Record
	env := c.expect(http.StatusOK, http.MethodGet, "/payrolls?employeeId=emp-1&limit=2", hr, nil, &page)
	if len(page) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page))
	}
	if env.Meta == nil || env.Meta.Total != 3 {
		t.Fatalf("expected total 3, got %+v", env.Meta)
	}
}

func TestPayslipDownload(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)
	record := createPayroll(c, hr)

	resp := c.raw(http.MethodGet, "/payrolls/"+record.ID+"/payslip", token(t, auth.RoleEmployee), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read payslip: %v", err)
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatal("expected a PDF document")
	}

	c.expect(http.StatusNotFound, http.MethodGet, "/payrolls/missing/payslip", hr, nil, nil)
}

func TestOutOfRangeAmountsAreRejected(t *testing.T) {
	c := newClient(t)
	hr := token(t, auth.RoleHR)
	record := createPayroll(c, hr)

	bodies := map[string]string{
		"huge exponent":   `{"payrollId":"` + record.ID + `","type":"BONUS","amount":1e5000000,"approved":true}`,
		"tiny exponent":   `{"payrollId":"` + record.ID + `","type":"BONUS","amount":1e-5000000,"approved":true}`,
		"too many digits": `{"payrollId":"` + record.ID + `","type":"BONUS","amount":"10000000000000000"}`,
		"too fine":        `{"payrollId":"` + record.ID + `","type":"BONUS","amount":"0.00005"}`,
	}
	for name, body := range bodies {
		start := time.Now()
		env := c.expect(http.StatusBadRequest, http.MethodPost, "/adjustments", hr, body, nil)
		if env.Error.Code != "validation_error" || !strings.Contains(string(env.Error.Details), `"amount"`) {
			t.Fatalf("%s: expected amount validation error, got %+v", name, env.Error)
		}
		if took := time.Since(start); took > 2*time.Second {
			t.Fatalf("%s: rejection took %s", name, took)
		}
	}

	env := c.expect(http.StatusBadRequest, http.MethodPatch, "/payrolls/"+record.ID, token(t, auth.RoleAdmin), map[string]any{
		"tax": "0.12345",
	}, nil)
	if !strings.Contains(string(env.Error.Details), `"tax"`) {
		t.Fatalf("expected tax validation error, got %s", env.Error.Details)
	}

	var unchanged payroll.Record
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID, hr, nil, &unchanged)
	mustEqual(t, "net untouched by rejected writes", "4500", unchanged.NetSalary)
	var adjustments []payroll.Adjustment
	c.expect(http.StatusOK, http.MethodGet, "/payrolls/"+record.ID+"/adjustments", hr, nil, &adjustments)
	if len(adjustments) != 0 {
		t.Fatalf("expected no adjustments, got %d", len(adjustments))
	}
}
