package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

type DepartmentInput struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func validateDepartmentInput(in DepartmentInput) *DomainError {
	problems := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		problems["name"] = "required"
	}
	if strings.TrimSpace(in.Code) == "" {
		problems["code"] = "required"
	}
	if len(problems) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid department", problems)
	}
	return nil
}

func (s *Service) ListDepartments(ctx context.Context) ([]store.Department, error) {
	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	if departments == nil {
		departments = []store.Department{}
	}
	return departments, nil
}

func (s *Service) GetDepartment(ctx context.Context, departmentID string) (store.Department, error) {
	return s.store.GetDepartment(ctx, departmentID)
}

func (s *Service) CreateDepartment(ctx context.Context, in DepartmentInput) (store.Department, error) {
	if derr := validateDepartmentInput(in); derr != nil {
		return store.Department{}, derr
	}
	department := store.Department{
		ID:   util.NewID("dep"),
		Name: in.Name,
		Code: in.Code,
	}
	if err := s.store.InsertDepartment(ctx, department); err != nil {
		return store.Department{}, err
	}
	return s.store.GetDepartment(ctx, department.ID)
}

func (s *Service) UpdateDepartment(ctx context.Context, departmentID string, in DepartmentInput) (store.Department, error) {
	if derr := validateDepartmentInput(in); derr != nil {
		return store.Department{}, derr
	}
	if err := s.store.UpdateDepartment(ctx, departmentID, in.Name, in.Code); err != nil {
		return store.Department{}, err
	}
	return s.store.GetDepartment(ctx, departmentID)
}

func (s *Service) DeleteDepartment(ctx context.Context, departmentID string) error {
	err := s.store.DeleteDepartment(ctx, departmentID)
	if errors.Is(err, store.ErrDepartmentNotEmpty) {
		return domainError(http.StatusConflict, "DEPARTMENT_NOT_EMPTY", "department still contains incident reports", nil)
	}
	return err
}
