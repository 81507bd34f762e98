package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func bearerFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", userID, err)
	}
	return session.Token
}

func TestDepartmentCRUD(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	seedUser(fs, "usr_adm", "Admin", "admin")
	seedUser(fs, "usr_off", "Officer", "officer")
	adminToken := bearerFor(t, svc, "usr_adm")
	officerToken := bearerFor(t, svc, "usr_off")

	rr, _ := postJSON(t, handler, "/api/departments", `{"name":"Homicide","code":"HOM"}`, officerToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("officer create: expected 403, got %d", rr.Code)
	}

	rr, created := postJSON(t, handler, "/api/departments", `{"name":"Homicide","code":"HOM"}`, adminToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	departmentID, _ := created["id"].(string)
	if departmentID == "" {
		t.Fatalf("create: missing id in %v", created)
	}

	rr, _ = postJSON(t, handler, "/api/departments", `{"name":"","code":""}`, adminToken)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank department: expected 422, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/departments", nil)
	req.Header.Set("Authorization", "Bearer "+officerToken)
	listRR := httptest.NewRecorder()
	handler.ServeHTTP(listRR, req)
	var listResponse map[string]any
	if err := json.Unmarshal(listRR.Body.Bytes(), &listResponse); err != nil {
		t.Fatalf("list: parse: %v", err)
	}
	items, _ := listResponse["departments"].([]any)
	if len(items) != 1 {
		t.Fatalf("list: expected 1 department, got %v", listResponse)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/departments/"+departmentID,
		strings.NewReader(`{"name":"Homicide Unit","code":"HOM"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	putRR := httptest.NewRecorder()
	handler.ServeHTTP(putRR, req)
	if putRR.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", putRR.Code, putRR.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/departments/"+departmentID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	deleteRR := httptest.NewRecorder()
	handler.ServeHTTP(deleteRR, req)
	if deleteRR.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", deleteRR.Code, deleteRR.Body.String())
	}
}

func TestDeleteDepartment_NotEmpty(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	seedUser(fs, "usr_adm", "Admin", "admin")
	adminToken := bearerFor(t, svc, "usr_adm")

	_, created := postJSON(t, handler, "/api/departments", `{"name":"Fraud","code":"FRD"}`, adminToken)
	departmentID, _ := created["id"].(string)

	report := seedReport(fs, "rpt_1", "usr_adm", false)
	report.DepartmentID = departmentID
	fs.reports[report.ID] = report

	req := httptest.NewRequest(http.MethodDelete, "/api/departments/"+departmentID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if response["code"] != "DEPARTMENT_NOT_EMPTY" {
		t.Errorf("expected DEPARTMENT_NOT_EMPTY, got %v", response["code"])
	}
}

func TestGrantRoutes_RequireGrantAction(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	seedUser(fs, "usr_off", "Officer", "officer")
	seedUser(fs, "usr_sup", "Supervisor", "supervisor")
	officerToken := bearerFor(t, svc, "usr_off")
	supervisorToken := bearerFor(t, svc, "usr_sup")

	rr, response := postJSON(t, handler, "/api/incident-report-access",
		`{"userId":"usr_off","accessType":"read_only"}`, officerToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("officer grant: expected 403, got %d", rr.Code)
	}
	if response["code"] != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %v", response["code"])
	}

	rr, response = postJSON(t, handler, "/api/incident-report-access",
		`{"userId":"usr_off","accessType":"read_only"}`, supervisorToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("supervisor grant: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	grantID, _ := response["id"].(string)

	rr, response = postJSON(t, handler, "/api/incident-report-access/"+grantID+"/extend",
		`{"days":30}`, supervisorToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("extend: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if response["expiresAt"] == nil {
		t.Error("extend: expected an expiry on the extended grant")
	}

	rr, response = postJSON(t, handler, "/api/incident-report-access/usr_off/revoke", ``, supervisorToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if revoked, _ := response["revoked"].(float64); revoked != 1 {
		t.Errorf("expected 1 revoked grant, got %v", response["revoked"])
	}
}
