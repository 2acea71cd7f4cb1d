package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"`
	LibraryVersion  string `json:"library_version"`
	ExerciseCount   int    `json:"exercise_count"`
	SelectableCount int    `json:"selectable_count"`
	SessionCount    int    `json:"session_count"`
	EventCount      uint64 `json:"event_count"`
	GeneratedAt     string `json:"generated_at"`
}

// ExerciseResponse is one entry in GET /api/v1/exercises or
// GET /api/v1/exercises/{id}.
type ExerciseResponse struct {
	ID          string              `json:"id"`
	Family      string              `json:"family,omitempty"`
	Equipment   string              `json:"equipment"`
	DisplayName string              `json:"display_name"`
	Selectable  bool                `json:"selectable"`
	Critical    []string            `json:"critical"`
	Criteria    []CriterionResponse `json:"criteria,omitempty"`
}

// CriterionResponse describes one scoring criterion.
type CriterionResponse struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires"`
	Weight   float64  `json:"weight"`
	Critical bool     `json:"critical,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
