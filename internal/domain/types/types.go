// Package types contains the JSON shapes shared by the HTTP API and its clients.
package types

// AddScoreRequest is the body of POST /api/addScore.
// Increasement keeps the public field name; a nil value means it was missing.
type AddScoreRequest struct {
	Region       string `json:"region"`
	Increasement *int64 `json:"increasement"`
}

// RegisterRegionRequest is the body of POST /api/registerRegion.
type RegisterRegionRequest struct {
	Region string `json:"region"`
}

// Empty is the `{}` acknowledgement body.
type Empty struct{}

// LeaderboardEntry is one region in the leaderboard.
type LeaderboardEntry struct {
	Region string `json:"region"`
	Score  int64  `json:"score"`
	Moving bool   `json:"moving"`
}

// LeaderboardResponse is the body of GET /api/getLeaderboard.
type LeaderboardResponse struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// IsExistWordRequest is the body of POST /api/isExistWord.
type IsExistWordRequest struct {
	Word string `json:"word"`
}

// IsExistWordResponse reports whether the word is in the dictionary and its meaning.
type IsExistWordResponse struct {
	ExistWord bool   `json:"existWord"`
	Mean      string `json:"mean,omitempty"`
}

// GetNewWordRequest asks for a word starting with the last letter of EndWith.
type GetNewWordRequest struct {
	EndWith   string   `json:"endWith"`
	UsedWords []string `json:"usedWords"`
}

// GetNewWordResponse carries the next word, or Messages explaining why none was found.
type GetNewWordResponse struct {
	Found      bool     `json:"found"`
	NewWord    string   `json:"newWord,omitempty"`
	Definition string   `json:"definition,omitempty"`
	Messages   []string `json:"messages,omitempty"`
}

// StartWordResponse is the body of GET /api/getStartWord.
type StartWordResponse struct {
	StartWord  string `json:"startWord"`
	Definition string `json:"definition"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
