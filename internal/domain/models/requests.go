package models

// Requests for the HTTP endpoints. Defined in domain for consistency and reuse.

type RecordsRequest struct {
	Name    string `param:"name" json:"name" validate:"required,ident"`
	From    int    `query:"from" json:"from" validate:"omitempty,gte=1800,lte=2200"`
	To      int    `query:"to" json:"to" validate:"omitempty,gte=1800,lte=2200,gtefield=From"`
	Limit   int    `query:"limit" json:"limit" default:"5000" validate:"gte=1,lte=100000"`
	Refresh bool   `query:"refresh" json:"refresh"`
	Source  string `query:"source" json:"source" default:"live" validate:"oneof=live store"`
}

type ForecastRequest struct {
	Job     string `json:"job" query:"job" validate:"required,ident"`
	Horizon int    `json:"horizon" query:"horizon" validate:"omitempty,gte=1,lte=120"`
	Refresh bool   `json:"refresh" query:"refresh"`
}

type ReportRequest struct {
	ID string `param:"id" json:"id" validate:"required,uuid"`
}
