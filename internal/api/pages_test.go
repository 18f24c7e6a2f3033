package api

import (
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"taskhub/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func pageTemplates(t *testing.T) *template.Template {
	t.Helper()
	tmpl := template.New("pages")
	for _, name := range []string{"todo_create.html", "404.html", "500.html"} {
		template.Must(tmpl.New(name).Parse(name))
	}
	return tmpl
}

func TestPageTaskCreate_NoProfileIsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &mockTaskStore{
		createFunc: func(ctx context.Context, task *model.Task) error {
			t.Fatalf("store must not be written without a profile")
			return nil
		},
	}
	profiles := &mockProfileStore{
		getFunc: func(ctx context.Context, userID uint) (*model.Profile, error) {
			return nil, gorm.ErrRecordNotFound
		},
	}
	s := newTestServer(store, profiles)

	r := gin.New()
	r.SetHTMLTemplate(pageTemplates(t))
	r.POST("/create", func(c *gin.Context) {
		c.Set("userID", 1)
		s.pageTaskCreate(c)
	})

	form := url.Values{"title": {"walk the dog"}}
	req := httptest.NewRequest(http.MethodPost, "/create", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
