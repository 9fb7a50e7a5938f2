package outbox

const activityReceivedSchema = `{
  "type": "object",
  "title": "ActivityReceived",
  "properties": {
    "event_id": {"type": "string"},
    "source": {"type": "string"},
    "observed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "source", "observed_at"],
  "additionalProperties": false
}`

const suggestionAcceptedSchema = `{
  "type": "object",
  "title": "SuggestionAccepted",
  "properties": {
    "suggestion_id": {"type": "string"},
    "event_id": {"type": "string"},
    "lane": {"type": "string"},
    "title": {"type": "string"},
    "coherence_score": {"type": "number"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["suggestion_id", "event_id", "lane", "title", "coherence_score", "created_at"],
  "additionalProperties": false
}`
