package log

// Canonical field names for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"

	FieldPortal   = "portal"
	FieldDialect  = "dialect"
	FieldEndpoint = "endpoint"
	FieldAction   = "action"
	FieldType     = "type"
	FieldStatus   = "status"
	FieldAttempt  = "attempt"

	FieldKind       = "kind"
	FieldCategoryID = "category_id"
	FieldPage       = "page"
	FieldPages      = "pages"
	FieldGeneration = "generation"
	FieldFetchID    = "fetch_id"

	FieldChannelKey = "channel_key"
	FieldItemID     = "item_id"
)
