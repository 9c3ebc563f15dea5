package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MKeysIssued              MetricKey = "keys_issued_total"
	MKeysAvailable           MetricKey = "inventory_keys_available"
	MSettlementShortfalls    MetricKey = "settlement_shortfalls_total"
)
