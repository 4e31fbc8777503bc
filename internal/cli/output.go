package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Account:
		o.printAccount(v)
	case MatchResult:
		o.printMatchResult(v)
	case Leaderboard:
		o.printLeaderboard(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Statistic response type (matches API)
type Statistic struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Account response type
type Account struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Status      string            `json:"status,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
	Rating      int               `json:"rating"`
	Coins       int               `json:"coins"`
	Statistic   Statistic         `json:"statistic"`
	Disabled    bool              `json:"disabled"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// MatchResult response type
type MatchResult struct {
	Accounts []Account `json:"accounts"`
}

// LeaderboardEntry response type
type LeaderboardEntry struct {
	Rank      int       `json:"rank"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	Statistic Statistic `json:"statistic"`
}

// Leaderboard response type
type Leaderboard struct {
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	Entries []LeaderboardEntry `json:"entries"`
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

func (o *Output) printAccount(a Account) {
	fmt.Printf("Account: %s (%s)\n", a.Username, a.ID)
	fmt.Printf("Email: %s\n", a.Email)
	if a.Status != "" {
		fmt.Printf("Status: %s\n", a.Status)
	}
	if a.AvatarURL != "" {
		fmt.Printf("Avatar: %s\n", a.AvatarURL)
	}
	for _, network := range slices.Sorted(maps.Keys(a.SocialLinks)) {
		fmt.Printf("Link %s: %s\n", network, a.SocialLinks[network])
	}
	fmt.Printf("Rating: %d\n", a.Rating)
	fmt.Printf("Coins: %d\n", a.Coins)
	fmt.Printf("Record: %d-%d-%d\n", a.Statistic.Wins, a.Statistic.Losses, a.Statistic.Draws)
	if a.Disabled {
		fmt.Println("Disabled: yes")
	}
}

func (o *Output) printMatchResult(m MatchResult) {
	fmt.Printf("Match applied to %d accounts:\n", len(m.Accounts))
	for _, a := range m.Accounts {
		fmt.Printf("  - %s: rating %d, coins %d\n", a.Username, a.Rating, a.Coins)
	}
}

func (o *Output) printLeaderboard(l Leaderboard) {
	fmt.Printf("Leaderboard (page %d, %d per page):\n", l.Page, l.Limit)
	if len(l.Entries) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for _, e := range l.Entries {
		fmt.Printf("  %3d. %-32s %5d  %d-%d-%d\n", e.Rank, e.Username, e.Rating,
			e.Statistic.Wins, e.Statistic.Losses, e.Statistic.Draws)
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Printf("Status: %s\n", h.Status)
}
