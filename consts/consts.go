package consts

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Keys of the config table.
const (
	ConfigKeySettings = "settings"
)

// Usage event types.
type EventType = string

const (
	EventRotation     EventType = "rotation"
	EventSuccess      EventType = "success"
	EventRateLimit    EventType = "rate_limit"
	EventDeactivation EventType = "deactivation"
	EventDailyReset   EventType = "daily_reset"
	EventRequest      EventType = "request"
)

// DateLayout is the format of KeyRecord.LastResetDate.
const DateLayout = "2006-01-02"

const DefaultUpstreamBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
