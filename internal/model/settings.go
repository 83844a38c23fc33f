package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Email    string `json:"email" yaml:"email"`
	AuthCode string `json:"authCode,omitempty" yaml:"authCode"`
	// SummaryWindowSec batches sales arriving within the window into one
	// email; zero sends each sale on its own.
	SummaryWindowSec int `json:"summaryWindowSec,omitempty" yaml:"summaryWindowSec"`
}
