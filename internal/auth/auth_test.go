package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "secret"
	testIssuer = "dismissal"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("dev-1", RoleTeacher, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Parse(tok.Token, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.DeviceID != "dev-1" || claims.Role != RoleTeacher {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := Parse(tok.Token, "other", testIssuer); err == nil {
		t.Error("wrong key accepted")
	}
	if _, err := Parse(tok.Token, testKey, "someone-else"); err == nil {
		t.Error("wrong issuer accepted")
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	if _, err := Issue("dev-1", "parent", testIssuer, testKey, time.Hour); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tok, _ := Issue("dev-1", RoleAdmin, testIssuer, testKey, -time.Minute)
	if _, err := Parse(tok.Token, testKey, testIssuer); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestDeviceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", DeviceAuth(testKey, testIssuer), func(c *gin.Context) {
		claims, _ := DeviceFrom(c)
		c.String(http.StatusOK, claims.DeviceID)
	})

	tok, _ := Issue("dev-9", RoleAdmin, testIssuer, testKey, time.Hour)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Body.String() != "dev-9" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}
