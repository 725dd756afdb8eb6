// Package relay defines the contract between Despensa and the hosting
// chat platform: the inbound turn message, the per-turn variables list
// that carries tenant credentials, and the sinks a turn streams its
// output through.
package relay

// Variable is a single name/value pair supplied by the platform with
// each request. Tenant credentials (OPENAI_API_KEY, SERPER_API_KEY)
// travel this way rather than through process config, so one Despensa
// instance can serve many agents with different keys.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variables is the ordered variable list from an inbound message.
type Variables []Variable

// Get returns the value for name, or "" when absent. Matching is exact
// and case-sensitive; the first occurrence wins.
func (v Variables) Get(name string) string {
	val, _ := v.Lookup(name)
	return val
}

// Lookup returns the value for name and whether it was present.
func (v Variables) Lookup(name string) (string, bool) {
	for _, item := range v {
		if item.Name == name {
			return item.Value, true
		}
	}
	return "", false
}

// Message is one inbound chat turn as delivered by the platform.
type Message struct {
	// ThreadID groups turns into a conversation.
	ThreadID string `json:"thread_id"`
	// Message is the user's text.
	Message string `json:"message"`
	// ResponseID correlates streamed chunks and the terminal event with
	// this turn. The API server assigns one when the platform omits it.
	ResponseID string `json:"response_uuid"`
	// Model names the LLM to use; empty falls back to the configured default.
	Model                string    `json:"model,omitempty"`
	SystemMessage        string    `json:"system_message,omitempty"`
	ProjectSystemMessage string    `json:"project_system_message,omitempty"`
	Variables            Variables `json:"variables,omitempty"`
	// StreamURL is where CallbackSink delivers chunk and terminal events.
	StreamURL string `json:"stream_url,omitempty"`
	// StreamToken authorizes deliveries to StreamURL.
	StreamToken string `json:"stream_token,omitempty"`
}

// Image-delimiter markup. Clients that understand the markers render
// the URL between them as an inline image; everything else shows the
// raw text.
const (
	ImageStartMarker = "[despensa.image.start]"
	ImageEndMarker   = "[despensa.image.end]"
)

// WrapImage returns url wrapped in the image-delimiter markers.
func WrapImage(url string) string {
	return ImageStartMarker + url + ImageEndMarker
}
