package handler

import (
	"time"

	"strata/internal/provisioner"
	"strata/internal/tenant/models"
)

type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DBName    string    `json:"db_name"`
	DBUser    string    `json:"db_user"`
	CreatedAt time.Time `json:"created_at"`
}

type TenantListResponse struct {
	Tenants []*TenantResponse `json:"tenants"`
	Count   int               `json:"count"`
}

// ConnectionResponse carries decrypted credentials. Served only to admins,
// never logged.
type ConnectionResponse struct {
	TenantResponse
	Password          string `json:"password"`
	PasswordAvailable bool   `json:"password_available"`
	ConnectionString  string `json:"connection_string"`
}

type DataRow struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

type DataListResponse struct {
	TenantID string     `json:"tenant_id"`
	Rows     []*DataRow `json:"rows"`
}

func toTenantResponse(rec *models.TenantRecord) *TenantResponse {
	return &TenantResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		DBName:    rec.DBName,
		DBUser:    rec.DBUser,
		CreatedAt: rec.CreatedAt,
	}
}

func toConnectionResponse(d *provisioner.Details) *ConnectionResponse {
	return &ConnectionResponse{
		TenantResponse:    *toTenantResponse(&d.TenantRecord),
		Password:          d.Password,
		PasswordAvailable: d.PasswordAvailable,
		ConnectionString:  d.ConnectionString,
	}
}
