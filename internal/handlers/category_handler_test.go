package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/models"
	"kakeibo/internal/pagination"
	"kakeibo/internal/services"
)

type mockCategoryService struct {
	createCategoryFn    func(userID uint, name string, categoryType models.CategoryType, description, icon, color string, parentID *uint) (*models.Category, error)
	getUserCategoriesFn func(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	getCategoryByIDFn   func(userID, categoryID uint) (*models.Category, error)
	updateCategoryFn    func(userID, categoryID uint, name, description, icon, color string) (*models.Category, error)
	deleteCategoryFn    func(userID, categoryID uint) error
	isMainCategoryFn    func(userID, categoryID uint) (bool, error)
}

var _ services.CategoryServicer = (*mockCategoryService)(nil)

func (m *mockCategoryService) CreateCategory(userID uint, name string, categoryType models.CategoryType, description, icon, color string, parentID *uint) (*models.Category, error) {
	if m.createCategoryFn != nil {
		return m.createCategoryFn(userID, name, categoryType, description, icon, color, parentID)
	}
	return &models.Category{}, nil
}

func (m *mockCategoryService) GetUserCategories(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error) {
	if m.getUserCategoriesFn != nil {
		return m.getUserCategoriesFn(userID, page)
	}
	return &pagination.PageResponse[models.Category]{}, nil
}

func (m *mockCategoryService) GetCategoryByID(userID, categoryID uint) (*models.Category, error) {
	if m.getCategoryByIDFn != nil {
		return m.getCategoryByIDFn(userID, categoryID)
	}
	return &models.Category{}, nil
}

func (m *mockCategoryService) UpdateCategory(userID, categoryID uint, name, description, icon, color string) (*models.Category, error) {
	if m.updateCategoryFn != nil {
		return m.updateCategoryFn(userID, categoryID, name, description, icon, color)
	}
	return &models.Category{}, nil
}

func (m *mockCategoryService) DeleteCategory(userID, categoryID uint) error {
	if m.deleteCategoryFn != nil {
		return m.deleteCategoryFn(userID, categoryID)
	}
	return nil
}

func (m *mockCategoryService) IsMainCategory(userID, categoryID uint) (bool, error) {
	if m.isMainCategoryFn != nil {
		return m.isMainCategoryFn(userID, categoryID)
	}
	return true, nil
}

func setupCategoryRouter(handler *CategoryHandler) *gin.Engine {
	r := gin.New()
	g := r.Group("/categories", injectUserID(1))
	g.POST("", handler.CreateCategory)
	g.GET("", handler.GetCategories)
	g.GET("/:id", handler.GetCategory)
	g.PUT("/:id", handler.UpdateCategory)
	g.DELETE("/:id", handler.DeleteCategory)
	return r
}

func TestCategoryHandler_CreateCategory(t *testing.T) {
	t.Run("returns 201 on success", func(t *testing.T) {
		categorySvc := &mockCategoryService{
			createCategoryFn: func(userID uint, name string, categoryType models.CategoryType, _, _, _ string, parentID *uint) (*models.Category, error) {
				return &models.Category{
					Base:     models.Base{ID: 4},
					UserID:   userID,
					Name:     name,
					Type:     categoryType,
					ParentID: parentID,
				}, nil
			},
		}
		handler := NewCategoryHandler(categorySvc, &mockAuditService{})
		r := setupCategoryRouter(handler)

		rec := doRequest(r, "POST", "/categories",
			`{"name":"Food","type":"expense","color":"#FF5722","parent_id":1}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		result := parseJSON(t, rec)
		category := result["category"].(map[string]interface{})
		if category["name"] != "Food" {
			t.Errorf("expected name Food, got %v", category["name"])
		}
	})

	t.Run("returns 400 on invalid color", func(t *testing.T) {
		handler := NewCategoryHandler(&mockCategoryService{}, &mockAuditService{})
		r := setupCategoryRouter(handler)

		rec := doRequest(r, "POST", "/categories", `{"name":"Food","type":"expense","color":"red"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("returns 400 on unknown type", func(t *testing.T) {
		handler := NewCategoryHandler(&mockCategoryService{}, &mockAuditService{})
		r := setupCategoryRouter(handler)

		rec := doRequest(r, "POST", "/categories", `{"name":"Food","type":"savings"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestCategoryHandler_DeleteCategory(t *testing.T) {
	t.Run("returns 409 when category has children", func(t *testing.T) {
		categorySvc := &mockCategoryService{
			deleteCategoryFn: func(_, _ uint) error {
				return apperrors.ErrCategoryHasChildren
			},
		}
		handler := NewCategoryHandler(categorySvc, &mockAuditService{})
		r := setupCategoryRouter(handler)

		rec := doRequest(r, "DELETE", "/categories/4", "")

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "CATEGORY_HAS_CHILDREN")
	})

	t.Run("returns 404 when category not found", func(t *testing.T) {
		categorySvc := &mockCategoryService{
			deleteCategoryFn: func(_, _ uint) error {
				return apperrors.ErrCategoryNotFound
			},
		}
		handler := NewCategoryHandler(categorySvc, &mockAuditService{})
		r := setupCategoryRouter(handler)

		rec := doRequest(r, "DELETE", "/categories/99", "")

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
