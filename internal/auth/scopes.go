package auth

// Known OAuth scopes used by the suggestion service.
const (
	ScopeActivityIngest   = "activity:ingest"
	ScopeSuggestionsRead  = "suggestions:read"
	ScopeSuggestionsAdmin = "suggestions:admin"
)
