package v1

// BoardColumn is one status column with its most recently touched cards
type BoardColumn struct {
	Title string `json:"title"`
	Count int    `json:"count"`
	Cards []Task `json:"cards"`
}

// Board is the default Kanban view: the five status columns in canonical order
type Board struct {
	Columns []BoardColumn `json:"columns"`
}

// Health is the liveness probe response
type Health struct {
	OK bool `json:"ok"`
}
