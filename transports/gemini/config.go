package gemini

// Config selects the Gemini Live model and voice.
type Config struct {
	Model  string `json:"model" yaml:"model"`
	Voice  string `json:"voice,omitempty" yaml:"voice,omitempty"`
	APIKey string `json:"-" yaml:"-"` // Read from GEMINI_API_KEY.
}

func DefaultConfig() Config {
	return Config{
		Model: "gemini-live-2.5-flash-preview",
	}
}
