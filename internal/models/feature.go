package models

// Feature is one chatbot variant reachable from the drawer. Each variant has its own
// message collection and its own remote endpoint.
type Feature struct {
	// Name is the stable key used in config and routes (e.g. "fitness").
	Name string `mapstructure:"name" json:"name"`
	// Title is the drawer label and screen heading.
	Title string `mapstructure:"title" json:"title"`
	// Collection is the per-user message collection (e.g. "fitnessMessages").
	Collection string `mapstructure:"collection" json:"collection"`
	// Endpoint is the base URL the dispatcher appends the escaped message to.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Placeholder is the input hint shown on an empty input line.
	Placeholder string `mapstructure:"placeholder" json:"placeholder"`
}
