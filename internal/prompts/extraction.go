package prompts

// ExtractionSystem is the system prompt for ingredient extraction. The
// model must answer with a bare JSON array of strings; downstream parsing
// depends on that shape and recovers the array from surrounding prose
// only as a fallback.
const ExtractionSystem = "You are a culinary assistant. When the user mentions a dish, " +
	"extract a concise list of core grocery ingredients needed to make it. " +
	"Respond ONLY with a valid JSON array of strings in Spanish where appropriate, no extra text. " +
	"Keep common items simple (e.g., 'huevos', 'patatas', 'cebolla', 'aceite de oliva', 'sal')."
