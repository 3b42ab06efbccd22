package wire

type Join struct {
	Name string `json:"name"`
}

type JoinAck struct {
	PlayerID    string `json:"player_id"`
	PlayerCount int    `json:"player_count"`
}

// ErrorInfo is the payload of join_reject and error messages. Code is a
// stable reason code from the errors package.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PlayerJoined struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
}

type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type RoundBegin struct {
	Question       int      `json:"question"`
	TotalQuestions int      `json:"total_questions"`
	Prompt         string   `json:"prompt"`
	Options        []Option `json:"options"`
	WindowMillis   int64    `json:"window_ms"`
	DeadlineMillis int64    `json:"deadline_ms"`
}

type Answer struct {
	Option           string `json:"option"`
	ClientTimeMillis int64  `json:"client_time_ms,omitempty"`
}

type AnswerAck struct {
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type PlayerOutcome struct {
	PlayerID      string `json:"player_id"`
	Name          string `json:"name"`
	Option        string `json:"option,omitempty"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	ElapsedMillis int64  `json:"elapsed_ms,omitempty"`
}

type RoundResult struct {
	Question      int             `json:"question"`
	CorrectOption string          `json:"correct_option"`
	Outcomes      []PlayerOutcome `json:"outcomes"`
}

type StandingEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Standings is the mid-game leaderboard broadcast after each round.
type Standings struct {
	Round       int             `json:"round"`
	TotalRounds int             `json:"total_rounds"`
	Entries     []StandingEntry `json:"entries"`
}

type GameOver struct {
	Leaderboard []StandingEntry `json:"leaderboard"`
}

type StatusInfo struct {
	Phase       string `json:"phase"`
	PlayerCount int    `json:"player_count"`
	Question    int    `json:"question"`
}
