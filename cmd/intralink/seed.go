package main

import (
	"context"
	"errors"
	"log/slog"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/service"
	impl "intralink/internal/service/impl"
	"intralink/internal/store"
)

var demoDepartments = []string{"Engineering", "Human Resources", "Operations"}

var demoUsers = []dto.RegisterRequest{
	{Username: "admin", Email: "admin@intralink.local", FirstName: "Ada", LastName: "Admin", Department: "Engineering", Role: string(domain.RoleAdmin)},
	{Username: "hr", Email: "hr@intralink.local", FirstName: "Hana", LastName: "Reyes", Department: "Human Resources", Role: string(domain.RoleHR)},
	{Username: "staff", Email: "staff@intralink.local", FirstName: "Sam", LastName: "Staff", Department: "Operations", Role: string(domain.RoleStaff)},
}

// seedDemo creates the demo departments and one user per role. Existing
// users are left alone, so it is safe to run on every start.
func seedDemo(ctx context.Context, st *store.Store, auth *impl.AuthServiceImpl, password string) error {
	for _, name := range demoDepartments {
		if _, err := st.Departments().Ensure(ctx, name); err != nil {
			return err
		}
	}
	seeder := &service.AccessClaims{Role: domain.RoleAdmin}
	for _, u := range demoUsers {
		u.Password = password
		_, err := auth.Register(ctx, u, seeder, service.DeviceContext{})
		switch {
		case errors.Is(err, domain.ErrConflict):
			continue
		case err != nil:
			return err
		}
		slog.Info("seeded demo user", "username", u.Username, "role", u.Role)
	}
	return nil
}
