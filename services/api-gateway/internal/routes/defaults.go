package routes

import "github.com/DanielEsLoH/MediConnect-sub004/pkg/config"

// Default builds the MediConnect route table from environment config.
func Default(cfg config.App) (*Table, error) {
	services := map[string]*Service{
		"users":         {URL: cfg.UsersURL},
		"doctors":       {URL: cfg.DoctorsURL},
		"appointments":  {URL: cfg.AppointmentsURL},
		"payments":      {URL: cfg.PaymentsURL},
		"notifications": {URL: cfg.NotificationsURL},
	}
	table := []Route{
		{Prefix: "/api/v1/auth", Service: "users", Auth: AuthNone},
		{Prefix: "/api/v1/users", Service: "users", Auth: AuthRequired},
		{Prefix: "/api/v1/doctors", Service: "doctors", Auth: AuthOptional},
		{Prefix: "/api/v1/reviews", Service: "doctors", Auth: AuthOptional},
		{Prefix: "/api/v1/appointments", Service: "appointments", Auth: AuthRequired},
		{Prefix: "/api/v1/payments", Service: "payments", Auth: AuthRequired},
		{Prefix: "/payments", Service: "payments", Auth: AuthRequired},
		// provider callbacks carry their own signature
		{Prefix: "/payments/webhook", Service: "payments", Auth: AuthNone},
		{Prefix: "/api/v1/notifications", Service: "notifications", Auth: AuthRequired},
	}
	return Build(services, table, cfg.ServiceTimeout)
}
