package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const secret = "s3cret"

func protected(t *testing.T, roles ...models.UserRole) http.Handler {
	t.Helper()
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := GetUserIDFromContext(r.Context()); err != nil {
			t.Errorf("GetUserIDFromContext: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	var h http.Handler = final
	if len(roles) > 0 {
		h = RequireRole(roles...)(h)
	}
	return Authenticate(secret, zap.NewNop())(h)
}

func TestAuthenticate(t *testing.T) {
	player, err := IssueToken(secret, 42, models.RolePlayer, nil)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := IssueToken(secret, 42, models.RolePlayer, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	foreign, _ := IssueToken("other", 42, models.RolePlayer, nil)
	admin, _ := IssueToken(secret, 1, models.RoleAdmin, nil)

	tests := []struct {
		name   string
		header string
		roles  []models.UserRole
		want   int
	}{
		{name: "valid token", header: "Bearer " + player, want: http.StatusOK},
		{name: "no header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + player, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, want: http.StatusUnauthorized},
		{name: "role mismatch", header: "Bearer " + player, roles: []models.UserRole{models.RoleAdmin}, want: http.StatusForbidden},
		{name: "role allowed", header: "Bearer " + admin, roles: []models.UserRole{models.RoleAdmin}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected(t, tt.roles...).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{jwtClaimUserID: 1, jwtClaimRole: "admin"})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned tokens must be rejected, got %d", rec.Code)
	}
}

func TestClaimsFromContext(t *testing.T) {
	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantID   int
		wantRole models.UserRole
		wantErr  bool
	}{
		{name: "numeric id", claims: jwt.MapClaims{"user_id": float64(7), "role": "player"}, wantID: 7, wantRole: models.RolePlayer},
		{name: "string id", claims: jwt.MapClaims{"user_id": "9", "role": "admin"}, wantID: 9, wantRole: models.RoleAdmin},
		{name: "fractional id", claims: jwt.MapClaims{"user_id": 1.5, "role": "player"}, wantErr: true},
		{name: "zero id", claims: jwt.MapClaims{"user_id": float64(0), "role": "player"}, wantErr: true},
		{name: "missing id", claims: jwt.MapClaims{"role": "player"}, wantErr: true},
		{name: "unknown role", claims: jwt.MapClaims{"user_id": float64(3), "role": "organizer"}, wantID: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithClaims(context.Background(), tt.claims)
			id, idErr := GetUserIDFromContext(ctx)
			role, roleErr := GetUserRoleFromContext(ctx)
			if tt.wantErr {
				if idErr == nil && roleErr == nil {
					t.Fatalf("expected an error, got id=%d role=%s", id, role)
				}
				return
			}
			if idErr != nil || roleErr != nil {
				t.Fatalf("unexpected errors: %v %v", idErr, roleErr)
			}
			if id != tt.wantID || role != tt.wantRole {
				t.Fatalf("got %d/%s, want %d/%s", id, role, tt.wantID, tt.wantRole)
			}
		})
	}

	if _, err := GetUserIDFromContext(context.Background()); err == nil {
		t.Fatalf("expected an error without claims")
	}
}
