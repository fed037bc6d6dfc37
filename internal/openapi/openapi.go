package openapi

func envelopeSchema(dataSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":  map[string]any{"type": "integer"},
			"err":   map[string]any{"type": "string"},
			"kind":  map[string]any{"type": "string"},
			"field": map[string]any{"type": "string"},
			"data":  dataSchema,
		},
		"required": []string{"code"},
	}
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

func param(in, name, typ string, required bool) map[string]any {
	return map[string]any{
		"in":       in,
		"name":     name,
		"required": required,
		"schema":   map[string]any{"type": typ},
	}
}

var teamHeader = param("header", "X-Team-Id", "integer", true)

type op struct {
	tag, summary, id string
	params           []map[string]any
	body             map[string]any
	data             map[string]any
	status           string
}

func (o op) build() map[string]any {
	status := o.status
	if status == "" {
		status = "200"
	}
	out := map[string]any{
		"tags":        []string{o.tag},
		"summary":     o.summary,
		"operationId": o.id,
		"responses": map[string]any{
			status: map[string]any{"description": "OK", "content": jsonContent(envelopeSchema(o.data))},
			"default": map[string]any{
				"description": "Error envelope",
				"content":     jsonContent(envelopeSchema(map[string]any{})),
			},
		},
	}
	if len(o.params) > 0 {
		out["parameters"] = o.params
	}
	if o.body != nil {
		out["requestBody"] = map[string]any{"required": true, "content": jsonContent(o.body)}
	}
	return out
}

// Spec returns the hand-maintained OpenAPI 3 document for the sitetap API.
func Spec() map[string]any {
	siteRef := param("path", "siteRef", "string", true)
	reportID := param("path", "reportId", "integer", true)
	page := []map[string]any{param("query", "limit", "integer", false), param("query", "offset", "integer", false)}
	dates := []map[string]any{param("query", "start_date", "string", false), param("query", "end_date", "string", false)}

	listParams := append([]map[string]any{teamHeader, siteRef}, dates...)
	listParams = append(listParams,
		param("query", "event_type", "string", false),
		param("query", "country", "string", false),
		param("query", "device_type", "string", false),
		param("query", "referer", "string", false),
	)
	listParams = append(listParams, page...)

	widgetParams := []map[string]any{teamHeader, reportID, param("path", "index", "integer", true)}
	for _, f := range []string{"date_from", "date_to", "device", "country", "city", "region", "source", "page", "event_name"} {
		widgetParams = append(widgetParams, param("query", f, "string", false))
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "sitetap API",
			"version": "0.1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"tags":        []string{"system"},
					"summary":     "Health check",
					"operationId": "healthz",
					"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
				},
			},
			"/api/status": map[string]any{
				"get": op{tag: "system", summary: "Get system status", id: "getSystemStatus", data: ref("SystemStatus")}.build(),
			},
			"/api/collect/{tagId}": map[string]any{
				"post": op{
					tag:     "ingest",
					summary: "Collect one event or an array of events",
					id:      "collect",
					params:  []map[string]any{param("path", "tagId", "string", true)},
					body:    map[string]any{"oneOf": []any{ref("EventPayload"), map[string]any{"type": "array", "items": ref("EventPayload")}}},
					data:    map[string]any{"type": "object", "properties": map[string]any{"accepted": map[string]any{"type": "integer"}}},
					status:  "202",
				}.build(),
			},
			"/api/teams": map[string]any{
				"post": op{
					tag:     "sites",
					summary: "Create team",
					id:      "createTeam",
					body:    map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}, "db_adapter": map[string]any{"type": "string"}}},
					data:    ref("Team"),
					status:  "201",
				}.build(),
			},
			"/api/sites": map[string]any{
				"get": op{
					tag:     "sites",
					summary: "List the team's sites",
					id:      "listSites",
					params:  []map[string]any{teamHeader},
					data:    map[string]any{"type": "object", "properties": map[string]any{"items": map[string]any{"type": "array", "items": ref("Site")}}},
				}.build(),
				"post": op{
					tag:     "sites",
					summary: "Create site",
					id:      "createSite",
					params:  []map[string]any{teamHeader},
					body:    map[string]any{"type": "object", "properties": map[string]any{"domain": map[string]any{"type": "string"}}},
					data:    ref("Site"),
					status:  "201",
				}.build(),
			},
			"/api/sites/{siteRef}/dashboard": map[string]any{
				"get": op{
					tag:     "dashboard",
					summary: "Dashboard rows,
					counts and existence probe",
					id:     "getDashboard",
					params: append(append([]map[string]any{teamHeader, siteRef}, dates...), page...),
					data:   ref("DashboardData"),
				}.build(),
			},
			"/api/sites/{siteRef}/events": map[string]any{
				"get": op{
					tag:     "dashboard",
					summary: "List events with filters",
					id:      "listEvents",
					params:  listParams,
					data:    ref("EventList"),
				}.build(),
			},
			"/api/reports": map[string]any{
				"post": op{
					tag:     "reports",
					summary: "Create report",
					id:      "createReport",
					params:  []map[string]any{teamHeader},
					body: map[string]any{"type": "object", "properties": map[string]any{
						"site_id": map[string]any{"type": "integer", "format": "int64"},
						"name":    map[string]any{"type": "string"},
						"widgets": map[string]any{"type": "array", "items": ref("WidgetConfig")},
					}},
					data:   ref("Report"),
					status: "201",
				}.build(),
			},
			"/api/reports/{reportId}": map[string]any{
				"get": op{tag: "reports", summary: "Get report", id: "getReport", params: []map[string]any{teamHeader, reportID}, data: ref("Report")}.build(),
			},
			"/api/reports/{reportId}/widgets": map[string]any{
				"put": op{
					tag:     "reports",
					summary: "Replace report widgets",
					id:      "updateReportWidgets",
					params:  []map[string]any{teamHeader, reportID},
					body:    map[string]any{"type": "object", "properties": map[string]any{"widgets": map[string]any{"type": "array", "items": ref("WidgetConfig")}}},
					data:    ref("Report"),
				}.build(),
			},
			"/api/reports/{reportId}/widgets/{index}/data": map[string]any{
				"get": op{tag: "reports", summary: "Render one widget", id: "renderWidget", params: widgetParams, data: ref("RenderedWidget")}.build(),
			},
		},
		"components": map[string]any{"schemas": schemas()},
	}
}

func nullable(typ string) map[string]any {
	return map[string]any{"type": typ, "nullable": true}
}

func schemas() map[string]any {
	pagination := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"offset":  map[string]any{"type": "integer"},
			"limit":   map[string]any{"type": "integer"},
			"total":   map[string]any{"type": "integer"},
			"hasMore": map[string]any{"type": "boolean"},
		},
	}
	return map[string]any{
		"SystemStatus": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":   map[string]any{"type": "string", "enum": []string{"running", "maintenance", "exception"}},
				"message":  map[string]any{"type": "string"},
				"backends": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"status"},
		},
		"Team": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":         map[string]any{"type": "integer", "format": "int64"},
				"name":       map[string]any{"type": "string"},
				"db_adapter": map[string]any{"type": "string"},
			},
		},
		"Site": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":         map[string]any{"type": "integer", "format": "int64"},
				"team_id":    map[string]any{"type": "integer", "format": "int64"},
				"tag_id":     map[string]any{"type": "string"},
				"domain":     map[string]any{"type": "string"},
				"db_adapter": map[string]any{"type": "string"},
			},
		},
		"EventPayload": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"event":            map[string]any{"type": "string"},
				"page_url":         map[string]any{"type": "string"},
				"referer":          map[string]any{"type": "string"},
				"query_params":     map[string]any{"type": "object", "additionalProperties": true},
				"custom_data":      map[string]any{"type": "object", "additionalProperties": true},
				"device_type":      map[string]any{"type": "string"},
				"screen_width":     map[string]any{"type": "integer"},
				"screen_height":    map[string]any{"type": "integer"},
				"rid":              map[string]any{"type": "string"},
				"created_at":       map[string]any{"type": "string", "format": "date-time"},
				"browser":          map[string]any{"type": "string"},
				"operating_system": map[string]any{"type": "string"},
			},
			"required": []string{"event"},
		},
		"Event": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":           map[string]any{"type": "integer", "format": "int64"},
				"site_id":      map[string]any{"type": "integer", "format": "int64"},
				"tag_id":       map[string]any{"type": "string"},
				"event":        map[string]any{"type": "string"},
				"page_url":     nullable("string"),
				"referer":      nullable("string"),
				"custom_data":  map[string]any{"type": "object", "nullable": true, "additionalProperties": true},
				"device_type":  nullable("string"),
				"screen_width": nullable("integer"),
				"country":      nullable("string"),
				"region":       nullable("string"),
				"city":         nullable("string"),
				"postal":       nullable("string"),
				"rid":          nullable("string"),
				"created_at":   map[string]any{"type": "string", "format": "date-time"},
			},
		},
		"DashboardData": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rows":          map[string]any{"type": "array", "items": ref("Event")},
				"totalMatching": map[string]any{"type": "integer"},
				"totalAllTime":  map[string]any{"type": "integer"},
				"pagination":    pagination,
				"hasAnyEvents":  map[string]any{"type": "boolean"},
			},
		},
		"EventList": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"events":       map[string]any{"type": "array", "nullable": true, "items": ref("Event")},
				"pagination":   pagination,
				"totalAllTime": map[string]any{"type": "integer"},
				"error":        map[string]any{"type": "boolean"},
			},
		},
		"WidgetConfig": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"version":       map[string]any{"type": "integer"},
				"title":         map[string]any{"type": "string"},
				"chart_type":    map[string]any{"type": "string", "enum": []string{"bar", "line", "pie", "funnel", "sankey"}},
				"x_field":       map[string]any{"type": "string"},
				"y_field":       map[string]any{"type": "string"},
				"source_field":  map[string]any{"type": "string"},
				"target_field":  map[string]any{"type": "string"},
				"aggregation":   map[string]any{"type": "string", "enum": []string{"count", "unique_users", "sum", "avg"}},
				"color_palette": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"limit":         map[string]any{"type": "number", "nullable": true},
				"layout":        map[string]any{"type": "object", "additionalProperties": true},
			},
			"required": []string{"chart_type"},
		},
		"Report": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":         map[string]any{"type": "integer", "format": "int64"},
				"site_id":    map[string]any{"type": "integer", "format": "int64"},
				"name":       map[string]any{"type": "string"},
				"widgets":    map[string]any{"type": "array", "items": ref("WidgetConfig")},
				"created_at": map[string]any{"type": "string", "format": "date-time"},
				"updated_at": map[string]any{"type": "string", "format": "date-time"},
			},
		},
		"RenderedWidget": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"widget": ref("WidgetConfig"),
				"series": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"points": map[string]any{"type": "array", "items": map[string]any{"type": "object", "properties": map[string]any{
							"x": map[string]any{"type": "string"},
							"y": map[string]any{"type": "number"},
						}}},
						"links": map[string]any{"type": "array", "items": map[string]any{"type": "object", "properties": map[string]any{
							"source": map[string]any{"type": "string"},
							"target": map[string]any{"type": "string"},
							"value":  map[string]any{"type": "number"},
						}}},
					},
				},
			},
		},
	}
}
