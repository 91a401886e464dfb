package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

func newMiddlewareRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(svc.OptionalMiddleware(), svc.CSRFMiddleware())
	r.POST("/optional", func(c *gin.Context) {
		if _, ok := SessionFromContext(c); ok {
			c.String(http.StatusOK, "user")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	r.GET("/required", svc.Middleware(), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func TestMiddlewareRequiresSession(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 1)
	svc := newTestService(t, db, nil, time.Hour)
	r := newMiddlewareRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/required", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	sess, err := svc.CreateSession(context.Background(), 1, &oauth2.Token{AccessToken: "hf_x"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	req.AddCookie(&http.Cookie{Name: svc.SessionCookieName(), Value: sess.ID})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with cookie, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/required", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", rec.Code)
	}
}

func TestCSRFMiddleware(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 1)
	svc := newTestService(t, db, nil, time.Hour)
	r := newMiddlewareRouter(svc)
	sess, err := svc.CreateSession(context.Background(), 1, &oauth2.Token{AccessToken: "hf_x"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// anonymous posts pass through untouched
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optional", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatalf("anonymous post: %d %s", rec.Code, rec.Body.String())
	}

	withCookies := func(req *http.Request) *http.Request {
		req.AddCookie(&http.Cookie{Name: svc.SessionCookieName(), Value: sess.ID})
		req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "tok"})
		return req
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodPost, "/optional", nil)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}

	req := withCookies(httptest.NewRequest(http.MethodPost, "/optional", nil))
	req.Header.Set(svc.CSRFHeaderName(), "tok")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user" {
		t.Fatalf("header token: %d %s", rec.Code, rec.Body.String())
	}

	form := url.Values{svc.CSRFFormField(): {"tok"}}
	req = withCookies(httptest.NewRequest(http.MethodPost, "/optional", strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("form token: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/optional", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user" {
		t.Fatalf("bearer post: %d %s", rec.Code, rec.Body.String())
	}
}
