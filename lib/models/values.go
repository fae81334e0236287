package models

// Frequency is how often a saved search or digest is delivered.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Sort orders accepted by the upstream search feeds.
const (
	SortByRelevance = "Relevance"
	SortByDate      = "Date"
)

// Days of week for weekly schedules, 1=Monday through 7=Sunday.
const (
	Monday = 1 + iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)
