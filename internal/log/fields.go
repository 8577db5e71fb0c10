package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldConnID   = "conn_id"
	FieldRoom     = "room"
	FieldEvent    = "event"

	FieldService = "service"
)
