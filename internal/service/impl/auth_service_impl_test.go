package impl

import (
	"context"
	"errors"
	"testing"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/service"
)

func TestRegisterAndLogin(t *testing.T) {
	f := setup(t)
	u := f.register(t, "alice")
	if u.Role != string(domain.RoleStaff) || u.Department == nil || *u.Department != "Engineering" {
		t.Fatalf("unexpected user: %+v", u)
	}

	resp := f.login(t, "alice", false, device("Europe/Berlin"))
	if resp.AccessToken == "" || resp.TokenType != "Bearer" || resp.ExpiresIn != 900 {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	if len(resp.DeviceID) != 32 {
		t.Fatalf("device id = %q", resp.DeviceID)
	}
	if resp.RefreshToken != "" || resp.SessionID != "" {
		t.Fatalf("login without remember-me must not create a session")
	}
	claims, err := f.tokens.Validate(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != u.ID {
		t.Fatalf("subject = %s, want %s", claims.Subject, u.ID)
	}
}

func TestLoginByEmail(t *testing.T) {
	f := setup(t)
	f.register(t, "alice")
	if _, err := f.auth.Login(context.Background(), dto.LoginRequest{Username: "Alice@Example.com", Password: testPass}, device("")); err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := setup(t)
	u := f.register(t, "alice")
	ctx := context.Background()

	_, err := f.auth.Login(ctx, dto.LoginRequest{Username: "alice", Password: "wrong password"}, device(""))
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	_, err = f.auth.Login(ctx, dto.LoginRequest{Username: "mallory", Password: testPass}, device(""))
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
	_, err = f.auth.Login(ctx, dto.LoginRequest{Username: "alice"}, device(""))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty password: %v", err)
	}

	logs, err := f.st.Audit().ListForUser(ctx, mustParse(t, u.ID), 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !hasAction(logs, domain.AuditLoginFailed) {
		t.Fatalf("failed login not audited: %+v", logs)
	}
}

func TestLoginDisabledUser(t *testing.T) {
	f := setup(t)
	u := f.register(t, "alice")
	ctx := context.Background()
	if err := f.st.Users().SetStatus(ctx, mustParse(t, u.ID), domain.UserSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := f.auth.Login(ctx, dto.LoginRequest{Username: "alice", Password: testPass}, device(""))
	if !errors.Is(err, domain.ErrUserDisabled) {
		t.Fatalf("err = %v, want ErrUserDisabled", err)
	}
}

func TestRegisterRoleGate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := dto.RegisterRequest{Username: "hank", Email: "hank@example.com", Password: testPass, Role: "hr"}

	if _, err := f.auth.Register(ctx, req, nil, service.DeviceContext{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("self-assigned role: %v", err)
	}
	staff := &service.AccessClaims{Role: domain.RoleStaff}
	if _, err := f.auth.Register(ctx, req, staff, service.DeviceContext{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("staff-assigned role: %v", err)
	}
	admin := &service.AccessClaims{Role: domain.RoleAdmin}
	u, err := f.auth.Register(ctx, req, admin, service.DeviceContext{})
	if err != nil {
		t.Fatalf("admin-assigned role: %v", err)
	}
	if u.Role != string(domain.RoleHR) {
		t.Fatalf("role = %s", u.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := setup(t)
	f.register(t, "alice")
	ctx := context.Background()

	cases := []struct {
		name string
		req  dto.RegisterRequest
		want error
	}{
		{"short password", dto.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "short"}, domain.ErrValidation},
		{"missing email", dto.RegisterRequest{Username: "bob", Password: testPass}, domain.ErrValidation},
		{"unknown role", dto.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: testPass, Role: "root"}, domain.ErrValidation},
		{"duplicate username", dto.RegisterRequest{Username: "ALICE", Email: "other@example.com", Password: testPass}, domain.ErrConflict},
		{"duplicate email", dto.RegisterRequest{Username: "alice2", Email: "alice@example.com", Password: testPass}, domain.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.auth.Register(ctx, tc.req, nil, service.DeviceContext{}); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMe(t *testing.T) {
	f := setup(t)
	u := f.register(t, "alice")
	got, err := f.auth.Me(context.Background(), mustParse(t, u.ID))
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if got.Username != "alice" || got.Department == nil {
		t.Fatalf("unexpected me: %+v", got)
	}
}
